// Package errors implements the error-kind taxonomy of the index-advisor
// core as tagged struct types, following the same pattern the surrounding
// codebase uses for its own domain errors: one struct per kind, each
// implementing error, each with a New constructor.
package errors

import "fmt"

// ErrUnparseableStatement means the analyser could not build a tree.
type ErrUnparseableStatement struct {
	Fingerprint string
	Reason      string
}

func (e *ErrUnparseableStatement) Error() string {
	return fmt.Sprintf("statement %s could not be parsed: %s", e.Fingerprint, e.Reason)
}

// NewErrUnparseableStatement creates an ErrUnparseableStatement.
func NewErrUnparseableStatement(fingerprint, reason string) *ErrUnparseableStatement {
	return &ErrUnparseableStatement{Fingerprint: fingerprint, Reason: reason}
}

// ErrRefusedMutatingExplain means the safety check blocked an analysed
// explain of a write statement.
type ErrRefusedMutatingExplain struct {
	Fingerprint string
	Class       string
}

func (e *ErrRefusedMutatingExplain) Error() string {
	return fmt.Sprintf("refused to run analyzed explain on %s statement %s", e.Class, e.Fingerprint)
}

// NewErrRefusedMutatingExplain creates an ErrRefusedMutatingExplain.
func NewErrRefusedMutatingExplain(fingerprint, class string) *ErrRefusedMutatingExplain {
	return &ErrRefusedMutatingExplain{Fingerprint: fingerprint, Class: class}
}

// ErrExplainTimeout means the explanatory call exceeded its deadline.
type ErrExplainTimeout struct {
	Fingerprint string
	TimeoutMS   int
}

func (e *ErrExplainTimeout) Error() string {
	return fmt.Sprintf("explain of statement %s exceeded %dms timeout", e.Fingerprint, e.TimeoutMS)
}

// NewErrExplainTimeout creates an ErrExplainTimeout.
func NewErrExplainTimeout(fingerprint string, timeoutMS int) *ErrExplainTimeout {
	return &ErrExplainTimeout{Fingerprint: fingerprint, TimeoutMS: timeoutMS}
}

// ErrPlanUnparseable means the planner output lacked required fields.
type ErrPlanUnparseable struct {
	Fingerprint string
	Reason      string
}

func (e *ErrPlanUnparseable) Error() string {
	return fmt.Sprintf("plan for statement %s could not be parsed: %s", e.Fingerprint, e.Reason)
}

// NewErrPlanUnparseable creates an ErrPlanUnparseable.
func NewErrPlanUnparseable(fingerprint, reason string) *ErrPlanUnparseable {
	return &ErrPlanUnparseable{Fingerprint: fingerprint, Reason: reason}
}

// ErrStatisticsUnavailable means the catalog lookup failed for a specific
// column. Per the propagation policy this is recovered locally by the
// recommender, but the type still exists so callers of the statistics
// provider can distinguish it from a hard failure.
type ErrStatisticsUnavailable struct {
	Table  string
	Column string
	Reason string
}

func (e *ErrStatisticsUnavailable) Error() string {
	return fmt.Sprintf("statistics unavailable for %s.%s: %s", e.Table, e.Column, e.Reason)
}

// NewErrStatisticsUnavailable creates an ErrStatisticsUnavailable.
func NewErrStatisticsUnavailable(table, column, reason string) *ErrStatisticsUnavailable {
	return &ErrStatisticsUnavailable{Table: table, Column: column, Reason: reason}
}

// ErrConnectionFailure is a transient gateway error, retried with backoff
// by the reliability package up to three attempts.
type ErrConnectionFailure struct {
	Reason string
}

func (e *ErrConnectionFailure) Error() string {
	return fmt.Sprintf("connection failure: %s", e.Reason)
}

// NewErrConnectionFailure creates an ErrConnectionFailure.
func NewErrConnectionFailure(reason string) *ErrConnectionFailure {
	return &ErrConnectionFailure{Reason: reason}
}

// Retryable reports whether err should be retried by the gateway's recovery
// manager. Only ErrConnectionFailure is retryable; every other kind
// surfaces to the caller immediately.
func Retryable(err error) bool {
	_, ok := err.(*ErrConnectionFailure)
	return ok
}
