package metrics

import (
	"context"
	"time"
)

// Collector records motion snapshots taken after each fired tick.
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Repository defines the interface for snapshot storage
type Repository interface {
	Record(snapshot *Snapshot) error
	Close() error
}

// Snapshot is the state of every actuator right after one fired tick.
type Snapshot struct {
	Timestamp time.Time
	TickMs    int64
	Samples   []Sample
}

// Sample is one actuator's state inside a Snapshot.
type Sample struct {
	Channel int
	Angle   int
	Target  int
	Rate    int
	Settled bool
}
