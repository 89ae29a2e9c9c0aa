package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypePersona represents persona derivation/lookup errors
	ErrorTypePersona ErrorType = "persona"
	// ErrorTypeMatch represents match lifecycle errors
	ErrorTypeMatch ErrorType = "match"
	// ErrorTypeLedger represents relational store errors
	ErrorTypeLedger ErrorType = "ledger"
	// ErrorTypeGraph represents graph index errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeOracle represents compatibility oracle errors
	ErrorTypeOracle ErrorType = "oracle"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// ErrType reports the category. Typed errors inherit it through embedding.
func (e *BaseError) ErrType() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Persona Errors

// ErrEmptyResponseHistory is returned when a persona cannot be derived because
// the user has no stored responses
type ErrEmptyResponseHistory struct {
	*BaseError
	UserID string
}

func NewEmptyResponseHistory(userID string) *ErrEmptyResponseHistory {
	return &ErrEmptyResponseHistory{
		BaseError: NewBaseError(ErrorTypePersona, fmt.Sprintf("no response history for user: %s", userID), nil),
		UserID:    userID,
	}
}

// ErrPersonaNotFound is returned when an operation requires a persona that does not exist
type ErrPersonaNotFound struct {
	*BaseError
	UserID string
}

func NewPersonaNotFound(userID string) *ErrPersonaNotFound {
	return &ErrPersonaNotFound{
		BaseError: NewBaseError(ErrorTypePersona, fmt.Sprintf("persona not found: %s", userID), nil),
		UserID:    userID,
	}
}

// Match Errors

// ErrInvalidStatusTransition is returned for any lifecycle move outside
// pending -> active -> ended
type ErrInvalidStatusTransition struct {
	*BaseError
	MatchID string
	From    string
	To      string
}

func NewInvalidStatusTransition(matchID, from, to string) *ErrInvalidStatusTransition {
	return &ErrInvalidStatusTransition{
		BaseError: NewBaseError(ErrorTypeMatch, fmt.Sprintf("invalid status transition %s -> %s for match %s", from, to, matchID), nil),
		MatchID:   matchID,
		From:      from,
		To:        to,
	}
}

// ErrMatchNotFound is returned when a match id does not resolve
type ErrMatchNotFound struct {
	*BaseError
	MatchID string
}

func NewMatchNotFound(matchID string) *ErrMatchNotFound {
	return &ErrMatchNotFound{
		BaseError: NewBaseError(ErrorTypeMatch, fmt.Sprintf("match not found: %s", matchID), nil),
		MatchID:   matchID,
	}
}

// Ledger Errors

// ErrLedgerWriteConflict is returned when the ledger already holds a record for the pair
type ErrLedgerWriteConflict struct {
	*BaseError
	UserA string
	UserB string
}

func NewLedgerWriteConflict(userA, userB string, err error) *ErrLedgerWriteConflict {
	return &ErrLedgerWriteConflict{
		BaseError: NewBaseError(ErrorTypeLedger, fmt.Sprintf("match already exists for pair %s/%s", userA, userB), err),
		UserA:     userA,
		UserB:     userB,
	}
}

// ErrLedgerUnavailable is returned when the relational store cannot serve a request
type ErrLedgerUnavailable struct {
	*BaseError
	Operation string
}

func NewLedgerUnavailable(operation string, err error) *ErrLedgerUnavailable {
	return &ErrLedgerUnavailable{
		BaseError: NewBaseError(ErrorTypeLedger, fmt.Sprintf("ledger unavailable: %s", operation), err),
		Operation: operation,
	}
}

// Graph Errors

// ErrGraphConnectionFailed is returned when Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrGraphQueryFailed is returned when a graph query fails
type ErrGraphQueryFailed struct {
	*BaseError
	Query string
}

func NewGraphQueryFailed(query string, err error) *ErrGraphQueryFailed {
	return &ErrGraphQueryFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("query failed: %s", query), err),
		Query:     query,
	}
}

// ErrMirrorWriteFailure is returned when the graph mirror of a ledger write fails.
// It is logged and queued for reconciliation, never surfaced to callers.
type ErrMirrorWriteFailure struct {
	*BaseError
	Operation string
	Subject   string
}

func NewMirrorWriteFailure(operation, subject string, err error) *ErrMirrorWriteFailure {
	return &ErrMirrorWriteFailure{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("mirror write failed: %s %s", operation, subject), err),
		Operation: operation,
		Subject:   subject,
	}
}

// Oracle Errors

// ErrOracleFailed is returned when persona derivation fails for a reason other
// than missing history
type ErrOracleFailed struct {
	*BaseError
	Operation string
}

func NewOracleFailed(operation string, err error) *ErrOracleFailed {
	return &ErrOracleFailed{
		BaseError: NewBaseError(ErrorTypeOracle, fmt.Sprintf("oracle failed: %s", operation), err),
		Operation: operation,
	}
}

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

type typed interface {
	ErrType() ErrorType
}

// IsErrorType checks if an error, or any error it wraps, is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if t, ok := err.(typed); ok && t.ErrType() == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	// Context errors are not retryable
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	var conflict *ErrLedgerWriteConflict
	if stderrors.As(err, &conflict) {
		return false
	}
	var unavailable *ErrLedgerUnavailable
	if stderrors.As(err, &unavailable) {
		return true
	}
	// Graph connection errors are retryable
	return IsErrorType(err, ErrorTypeGraph)
}

// IsEmptyResponseHistory reports whether err carries ErrEmptyResponseHistory
func IsEmptyResponseHistory(err error) bool {
	var target *ErrEmptyResponseHistory
	return stderrors.As(err, &target)
}

// IsPersonaNotFound reports whether err carries ErrPersonaNotFound
func IsPersonaNotFound(err error) bool {
	var target *ErrPersonaNotFound
	return stderrors.As(err, &target)
}

// IsLedgerWriteConflict reports whether err carries ErrLedgerWriteConflict
func IsLedgerWriteConflict(err error) bool {
	var target *ErrLedgerWriteConflict
	return stderrors.As(err, &target)
}

// IsInvalidStatusTransition reports whether err carries ErrInvalidStatusTransition
func IsInvalidStatusTransition(err error) bool {
	var target *ErrInvalidStatusTransition
	return stderrors.As(err, &target)
}

// IsMatchNotFound reports whether err carries ErrMatchNotFound
func IsMatchNotFound(err error) bool {
	var target *ErrMatchNotFound
	return stderrors.As(err, &target)
}

// IsLedgerUnavailable reports whether err carries ErrLedgerUnavailable
func IsLedgerUnavailable(err error) bool {
	var target *ErrLedgerUnavailable
	return stderrors.As(err, &target)
}

// TypeOf returns the type of the first typed error in the chain, or "" if none
func TypeOf(err error) ErrorType {
	for err != nil {
		if t, ok := err.(typed); ok {
			return t.ErrType()
		}
		err = stderrors.Unwrap(err)
	}
	return ""
}
