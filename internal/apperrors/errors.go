// Package apperrors defines the categorized error taxonomy shared by every
// core component: the RPC client, the decoder registry, the persister, and
// the delivery queue producer all raise (or wrap) one of these kinds so that
// callers can dispatch on retryability without string matching.
package apperrors

import (
	"errors"
	"fmt"
)

// Category identifies which policy in the error handling design a failure
// belongs to.
type Category string

const (
	CategoryTransientRPC  Category = "transient_rpc"
	CategoryFatalRPC      Category = "fatal_rpc"
	CategoryDecode        Category = "decode"
	CategoryPersistence   Category = "persistence"
	CategoryDeepReorg     Category = "deep_reorg"
	CategoryQueue         Category = "queue"
	CategoryConfiguration Category = "configuration"
)

// CategorizedError is the concrete error type every constructor below
// returns. Cause is preserved for Unwrap so callers can still errors.Is /
// errors.As through to the underlying driver error.
type CategorizedError struct {
	Category  Category
	Message   string
	Retryable bool
	Details   map[string]interface{}
	Cause     error
}

func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

func newErr(cat Category, retryable bool, msg string, cause error, details map[string]interface{}) *CategorizedError {
	return &CategorizedError{
		Category:  cat,
		Message:   msg,
		Retryable: retryable,
		Details:   details,
		Cause:     cause,
	}
}

// NewTransientRPCError wraps a timeout, 5xx, or connection-reset failure
// from an upstream JSON-RPC endpoint. Retried with backoff inside the RPC
// client per §4.1.
func NewTransientRPCError(endpoint string, cause error) *CategorizedError {
	return newErr(CategoryTransientRPC, true, "rpc call failed", cause, map[string]interface{}{"endpoint": endpoint})
}

// NewFatalRPCError wraps a malformed JSON or schema-violating response. The
// poller waits poll_interval and retries the block rather than retrying the
// RPC call immediately.
func NewFatalRPCError(endpoint string, cause error) *CategorizedError {
	return newErr(CategoryFatalRPC, false, "rpc response malformed", cause, map[string]interface{}{"endpoint": endpoint})
}

// NewDecodeError wraps a log whose topic matched a registered decoder but
// whose payload could not be parsed. The event is dropped; the pipeline
// continues.
func NewDecodeError(decoder string, txHash string, logIndex uint, cause error) *CategorizedError {
	return newErr(CategoryDecode, false, "log decode failed", cause, map[string]interface{}{
		"decoder": decoder, "tx_hash": txHash, "log_index": logIndex,
	})
}

// NewPersistenceError wraps a database failure. transient=true marks
// deadlocks/connection loss; transient=false marks integrity violations
// outside a unique-conflict. Every call site in the core passes
// transient=true, and the Block Poller does not branch on the flag: it logs
// any per-block persistence error and retries the block on its next loop
// iteration, with no fixed attempt limit.
func NewPersistenceError(transient bool, op string, cause error) *CategorizedError {
	return newErr(CategoryPersistence, transient, "persistence operation failed: "+op, cause, map[string]interface{}{"op": op})
}

// NewDeepReorgError signals a reorg deeper than the detector's window. The
// indexer must exit non-zero; this is not retried.
func NewDeepReorgError(chain string, windowSize int, reorgDepth int) *CategorizedError {
	return newErr(CategoryDeepReorg, false, "reorg exceeds detector window", nil, map[string]interface{}{
		"chain": chain, "window": windowSize, "depth": reorgDepth,
	})
}

// NewQueueError wraps a durable-queue unavailability. The alert row stays
// committed and the notification stays pending; a background sweeper
// retries every 30s.
func NewQueueError(op string, cause error) *CategorizedError {
	return newErr(CategoryQueue, true, "queue operation failed: "+op, cause, map[string]interface{}{"op": op})
}

// NewConfigurationError wraps a startup-time configuration failure.
func NewConfigurationError(field string, cause error) *CategorizedError {
	return newErr(CategoryConfiguration, false, "invalid configuration: "+field, cause, map[string]interface{}{"field": field})
}

// IsRetryable reports whether err (or a CategorizedError anywhere in its
// chain) should be retried by its caller.
func IsRetryable(err error) bool {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// CategoryOf extracts the Category of err, or "" if err is not (or does not
// wrap) a CategorizedError.
func CategoryOf(err error) Category {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// IsDeepReorg reports whether err represents a reorg beyond the detector's
// tracked window — the one failure mode that always forces process exit.
func IsDeepReorg(err error) bool {
	return CategoryOf(err) == CategoryDeepReorg
}
