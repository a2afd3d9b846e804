package domain

// Outcome is the typed result of an atomic operation body. It distinguishes
// "commit with value" from "roll back with value": a rollback outcome unwinds
// the data-transaction without surfacing an error, and the value is still
// returned to the caller.
type Outcome struct {
	Value    any
	Rollback bool
}

// Commit returns an outcome that commits the data-transaction.
func Commit(value any) Outcome {
	return Outcome{Value: value}
}

// RollbackWith returns an outcome that rolls back the data-transaction while
// returning value to the caller without an error.
func RollbackWith(value any) Outcome {
	return Outcome{Value: value, Rollback: true}
}
