package constants

const (
	MigrationLock = iota
	SchedulerLock
)

var Locks = []int{
	MigrationLock,
	SchedulerLock,
}

const (
	// MaxRetryAttempts caps failed execution attempts before a record
	// is forced into failed.
	MaxRetryAttempts = 3

	// BreakerThreshold trips a circuit after this many consecutive
	// failures of one named operation.
	BreakerThreshold = 5
)
