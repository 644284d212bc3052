package app

// StoreOperation tracks a CLI operation that may mutate the store.
// Operations are created in memory with ID=0. Only mutating commands
// persist them (giving them an auto-increment ID from the database).
type StoreOperation struct {
	ID         int64
	OpID       string
	Operation  string
	Parameters string
	Status     string // "success" or "error"
}

// NewStoreOperation creates a new in-memory operation record.
func NewStoreOperation(opID, operation, parameters string) *StoreOperation {
	return &StoreOperation{
		OpID:       opID,
		Operation:  operation,
		Parameters: parameters,
		Status:     "success",
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *StoreOperation) Persisted() bool {
	return op.ID != 0
}
