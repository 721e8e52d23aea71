package lock

// DistributedLockManager serializes singleton concerns (migrations,
// the scheduler loop) across engine instances. Per-record exclusivity
// is NOT handled here; that is the task store's lease mechanism.
type DistributedLockManager interface {
	Acquire(lockID int) error
	Release(lockID int) error
}
