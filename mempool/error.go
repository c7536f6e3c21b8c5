package mempool

// RejectCode mirrors why the pool refused a transaction.
type RejectCode int

// Reject reasons.
const (
	RejectInvalid RejectCode = iota
	RejectDuplicate
	RejectDoubleSpend
	RejectInsufficientFee
)

// TxRuleError identifies a pool admission rule violation.
type TxRuleError struct {
	RejectCode  RejectCode
	Description string
}

// Error satisfies the error interface.
func (e TxRuleError) Error() string {
	return e.Description
}

// txRuleError creates a TxRuleError given a set of arguments.
func txRuleError(c RejectCode, desc string) TxRuleError {
	return TxRuleError{RejectCode: c, Description: desc}
}
