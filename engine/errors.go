package engine

import "errors"

var (
	// ErrConfiguration is fatal: the runner will not start.
	ErrConfiguration = errors.New("configuration error")

	// ErrStopping means Start was called while a stopped loop is still
	// finishing its cycle. Wait, then Start again.
	ErrStopping = errors.New("engine is stopping")

	// ErrOrderRejected means the sized order failed exchange rules and was
	// skipped. Reported in events only.
	ErrOrderRejected = errors.New("order rejected")

	// ErrPersistence means the position could not be saved. The in-memory
	// position stays authoritative and the save is retried next cycle.
	ErrPersistence = errors.New("persistence error")

	// ErrLedgerWrite means a trade could not be recorded. Trading continues.
	ErrLedgerWrite = errors.New("ledger write error")
)
