// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode identifies a kind of rule violation.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrDuplicateBlock indicates a block with the same hash already
	// exists.
	ErrDuplicateBlock ErrorCode = iota

	// ErrMissingParent indicates the previous block hash is known on
	// neither the main chain nor any tracked alternative chain.
	ErrMissingParent

	// ErrBadVersion indicates the block's major version disagrees with
	// the upgrade detector's expectation for its height.
	ErrBadVersion

	// ErrBadTimestamp indicates the block timestamp is below the median
	// of recent blocks or too far in the future.
	ErrBadTimestamp

	// ErrOversizeBlock indicates the block's cumulative size exceeds the
	// dynamic limit.
	ErrOversizeBlock

	// ErrOversizeTx indicates a transaction exceeds the maximum size.
	ErrOversizeTx

	// ErrCoinbaseMismatch indicates the coinbase input or unlock time is
	// malformed for the block's height.
	ErrCoinbaseMismatch

	// ErrRewardMismatch indicates the coinbase outputs do not sum to the
	// expected block reward.
	ErrRewardMismatch

	// ErrBadProofOfWork indicates the block hash does not satisfy the
	// required difficulty.
	ErrBadProofOfWork

	// ErrCheckpointMismatch indicates a block at a checkpointed height
	// carries the wrong hash.
	ErrCheckpointMismatch

	// ErrBadRingSignature indicates a ring signature failed to verify.
	ErrBadRingSignature

	// ErrDoubleSpend indicates a key image was already seen on the chain.
	ErrDoubleSpend

	// ErrOutputLocked indicates a referenced ring member is still locked.
	ErrOutputLocked

	// ErrInvalidGlobalIndex indicates a referenced global output index is
	// out of range for its amount.
	ErrInvalidGlobalIndex

	// ErrFeeTooLow indicates the transaction fee is below the minimum.
	ErrFeeTooLow

	// ErrMissingPoolTx indicates a block references a transaction the
	// pool does not hold.
	ErrMissingPoolTx

	// ErrParseFailure indicates a blob failed deserialization.
	ErrParseFailure

	// ErrTxMalformed indicates a statically invalid transaction: no
	// inputs, unsupported variants, amount overflow, or duplicated key
	// images.
	ErrTxMalformed
)

var errorCodeStrings = map[ErrorCode]string{
	ErrDuplicateBlock:     "ErrDuplicateBlock",
	ErrMissingParent:      "ErrMissingParent",
	ErrBadVersion:         "ErrBadVersion",
	ErrBadTimestamp:       "ErrBadTimestamp",
	ErrOversizeBlock:      "ErrOversizeBlock",
	ErrOversizeTx:         "ErrOversizeTx",
	ErrCoinbaseMismatch:   "ErrCoinbaseMismatch",
	ErrRewardMismatch:     "ErrRewardMismatch",
	ErrBadProofOfWork:     "ErrBadProofOfWork",
	ErrCheckpointMismatch: "ErrCheckpointMismatch",
	ErrBadRingSignature:   "ErrBadRingSignature",
	ErrDoubleSpend:        "ErrDoubleSpend",
	ErrOutputLocked:       "ErrOutputLocked",
	ErrInvalidGlobalIndex: "ErrInvalidGlobalIndex",
	ErrFeeTooLow:          "ErrFeeTooLow",
	ErrMissingPoolTx:      "ErrMissingPoolTx",
	ErrParseFailure:       "ErrParseFailure",
	ErrTxMalformed:        "ErrTxMalformed",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation. It is used to indicate that
// processing of a block or transaction failed due to one of the many
// validation rules. The caller can use type assertions to determine if a
// failure was specifically due to a rule violation and access the ErrorCode
// to act accordingly.
type RuleError struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// IsRuleError returns whether err is a RuleError, and its code if so.
func IsRuleError(err error) (ErrorCode, bool) {
	var ruleErr RuleError
	if ok := asError(err, &ruleErr); ok {
		return ruleErr.ErrorCode, true
	}
	return 0, false
}

// InvariantError reports broken internal consistency of the persistent
// indexes. It is fatal: the chain refuses further writes once one surfaces.
type InvariantError struct {
	Description string
}

// Error satisfies the error interface.
func (e InvariantError) Error() string {
	return "invariant violation: " + e.Description
}

// invariantError creates an InvariantError with the given description.
func invariantError(format string, args ...interface{}) InvariantError {
	return InvariantError{Description: fmt.Sprintf(format, args...)}
}

// IsInvariantError returns whether err is an InvariantError.
func IsInvariantError(err error) bool {
	var invariantErr InvariantError
	return asError(err, &invariantErr)
}

// ErrResultNotReady is returned when a read batch result is extracted before
// the raw values have been submitted.
var ErrResultNotReady = errors.New("read batch result not ready")

// asError is a typed wrapper over errors.As.
func asError(err error, target interface{}) bool {
	return errors.As(err, target)
}
