package exception

import "errors"

// Ledger errors
var (
	ErrInventoryNotFound = errors.New("ledger: inventory not found")
	ErrEmptyKey          = errors.New("ledger: empty inventory key")
	ErrNegativeQuantity  = errors.New("ledger: negative quantity")
	ErrUnknownStore      = errors.New("ledger: unknown store")
)
