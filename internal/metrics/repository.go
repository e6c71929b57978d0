package metrics

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/servoctl/internal/errors"
	"codeberg.org/mutker/servoctl/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []*Snapshot
	flushTicker   *time.Ticker
	flushReqChan  chan struct{}
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Metrics repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*Snapshot, 0, cfg.batchLimit()),
		flushReqChan:  make(chan struct{}, 1),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	// Periodic flushing only when batching is enabled
	if cfg.BatchSize > 0 && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
	}
	go repo.flusher()

	return repo, nil
}

// Record buffers snapshot. A full batch is handed to the flusher goroutine,
// so callers never wait on the database.
func (r *repository) Record(snapshot *Snapshot) error {
	r.mu.Lock()
	r.buffer = append(r.buffer, snapshot)
	full := len(r.buffer) >= r.cfg.batchLimit()
	r.mu.Unlock()

	if full {
		select {
		case r.flushReqChan <- struct{}{}:
		default:
			// a flush is already pending
		}
	}

	return nil
}

func (r *repository) Close() error {
	var closeErr error

	r.closeOnce.Do(func() {
		close(r.shutdownChan)
		if r.flushTicker != nil {
			r.flushTicker.Stop()
		}
		<-r.flushDoneChan

		// The flusher has exited, the remainder is written here
		if err := r.flush(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to flush metrics on close")
		}

		if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "checkpoint_wal",
				Error: err.Error(),
			})
			r.db.Close()
			return
		}

		if err := r.db.Close(); err != nil {
			closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "close_database",
				Error: err.Error(),
			})
			return
		}

		r.logger.Info().Msg("Metrics repository closed gracefully")
	})

	return closeErr
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	var tick <-chan time.Time
	if r.flushTicker != nil {
		tick = r.flushTicker.C
	}

	for {
		select {
		case <-tick:
			if err := r.flush(); err != nil {
				r.logger.Error().Err(err).Msg("Periodic metrics flush failed")
			}
		case <-r.flushReqChan:
			if err := r.flush(); err != nil {
				r.logger.Error().Err(err).Msg("Batch metrics flush failed")
			}
		case <-r.shutdownChan:
			return
		}
	}
}

// flush takes the buffered snapshots and writes them in one transaction.
// Only the flusher goroutine, or Close after it exited, calls it.
func (r *repository) flush() error {
	r.mu.Lock()
	batch := r.buffer
	r.buffer = make([]*Snapshot, 0, r.cfg.batchLimit())
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertSampleSQL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	rows := 0
	for _, snapshot := range batch {
		for _, sample := range snapshot.Samples {
			values := []interface{}{
				snapshot.Timestamp.Unix(),
				snapshot.TickMs,
				int64(sample.Channel),
				int64(sample.Angle),
				int64(sample.Target),
				int64(sample.Rate),
				int64(boolToInt(sample.Settled)),
			}

			if _, err := stmt.Exec(values...); err != nil {
				r.logger.Error().Err(err).Msg("Failed to execute insert")
				if err := tx.Rollback(); err != nil {
					r.logger.Error().Err(err).Msg("Failed to roll back transaction")
				}
				return errFactory.Wrap(ErrTransactionFailed, err)
			}
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().
		Int("snapshots", len(batch)).
		Int("rows", rows).
		Msg("Flushed metrics to database")

	return nil
}
