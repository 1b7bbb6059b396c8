package inventory

// MovementObserver is notified after a movement commits.
type MovementObserver interface {
	ObserveMovement(entry LedgerEntry)
}
