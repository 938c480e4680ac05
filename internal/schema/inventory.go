package schema

// Quantity is a scaled integer. The scale is defined by the instrument reference data.
type Quantity int64

// InventoryRecord is the ledger position held for a single key.
type InventoryRecord struct {
	Key       string   `json:"key"`
	Quantity  Quantity `json:"quantity"`
	Version   uint64   `json:"version"`
	UpdatedAt int64    `json:"updatedAt"`
}
