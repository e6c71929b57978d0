package errors

// Common error codes
const (
	// System errors
	ErrInternal ErrorCode = "internal_error"

	// Configuration errors
	ErrInvalidConfig       ErrorCode = "invalid_configuration"
	ErrBindFlags           ErrorCode = "bind_flags_failed"
	ErrReadConfig          ErrorCode = "read_config_failed"
	ErrInvalidTickInterval ErrorCode = "invalid_tick_interval"
	ErrInvalidPollInterval ErrorCode = "invalid_poll_interval"
	ErrInvalidDriver       ErrorCode = "invalid_driver"
	ErrInvalidBounds       ErrorCode = "invalid_channel_bounds"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrAlreadyRunning ErrorCode = "already_running"

	// Application errors
	ErrMainLoop    ErrorCode = "main_loop_failed"
	ErrRegisterApp ErrorCode = "register_channels_failed"

	// Operation errors
	ErrTimeout ErrorCode = "operation_timeout"

	// Metrics errors
	ErrInitMetrics    ErrorCode = "init_metrics_failed"
	ErrCollectMetrics ErrorCode = "collect_metrics_failed"
	ErrCloseMetrics   ErrorCode = "close_metrics_failed"
)

var errorMessages = map[ErrorCode]string{
	ErrInternal:            "Internal error occurred",
	ErrInvalidConfig:       "Invalid configuration",
	ErrBindFlags:           "Failed to bind flags",
	ErrReadConfig:          "Failed to read config file",
	ErrInvalidTickInterval: "Invalid tick interval",
	ErrInvalidPollInterval: "Invalid poll interval",
	ErrInvalidDriver:       "Invalid servo driver",
	ErrInvalidBounds:       "Invalid channel bounds",
	ErrInvalidLogLevel:     "Invalid log level",
	ErrAlreadyRunning:      "Another instance is already running",
	ErrMainLoop:            "Error in main loop",
	ErrRegisterApp:         "Failed to register configured channels",
	ErrTimeout:             "Operation timed out",
	ErrInitMetrics:         "Failed to initialize metrics",
	ErrCollectMetrics:      "Failed to collect metrics data",
	ErrCloseMetrics:        "Failed to close metrics connection",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
