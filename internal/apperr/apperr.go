// Package apperr defines the closed error taxonomy shared by every
// subsystem. Fallible operations return a value or an *Error carrying a
// machine-readable code; callers dispatch on the code, never on dynamic
// type inspection.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a single failure mode.
type Code string

const (
	// Database
	CodeConnectionFailed Code = "connection_failed"
	CodeQueryFailed      Code = "query_failed"
	CodeSymbolNotFound   Code = "symbol_not_found"

	// Network
	CodeNetworkUnavailable Code = "network_unavailable"

	// Validation
	CodeInvalidSymbol    Code = "invalid_symbol"
	CodeInvalidCapital   Code = "invalid_capital"
	CodeInvalidDateRange Code = "invalid_date_range"
	CodeInvalidParameter Code = "invalid_parameter"
	CodeConfigInvalid    Code = "config_invalid"

	// Data
	CodeNoDataAvailable Code = "no_data_available"
	CodeParsingFailed   Code = "parsing_failed"

	// TechnicalAnalysis
	CodeInvalidPeriod    Code = "invalid_period"
	CodeInsufficientData Code = "insufficient_data"

	// Execution
	CodeInvalidSignalType Code = "invalid_signal_type"
	CodeInvalidPrice      Code = "invalid_price"
	CodeInvalidDate       Code = "invalid_date"
	CodeHoldSignal        Code = "hold_signal"
	CodeNoPosition        Code = "no_position"
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeOrderFailed       Code = "order_failed"

	// Progress
	CodeInvalidProgress Code = "invalid_progress"

	// Engine
	CodeSimulationFailed Code = "simulation_failed"
	CodeAllocationFailed Code = "allocation_failed"

	// System
	CodeWorkerFailed  Code = "worker_failed"
	CodeWorkerTimeout Code = "worker_timeout"
	CodeSpawnFailed   Code = "spawn_failed"
	CodeIOFailed      Code = "io_failed"
)

// Category groups codes for coarse-grained handling and reporting.
type Category string

const (
	CategoryDatabase          Category = "database"
	CategoryNetwork           Category = "network"
	CategoryValidation        Category = "validation"
	CategoryData              Category = "data"
	CategoryTechnicalAnalysis Category = "technical_analysis"
	CategoryExecution         Category = "execution"
	CategoryProgress          Category = "progress"
	CategoryEngine            Category = "engine"
	CategorySystem            Category = "system"
)

var categories = map[Code]Category{
	CodeConnectionFailed:   CategoryDatabase,
	CodeQueryFailed:        CategoryDatabase,
	CodeSymbolNotFound:     CategoryDatabase,
	CodeNetworkUnavailable: CategoryNetwork,
	CodeInvalidSymbol:      CategoryValidation,
	CodeInvalidCapital:     CategoryValidation,
	CodeInvalidDateRange:   CategoryValidation,
	CodeInvalidParameter:   CategoryValidation,
	CodeConfigInvalid:      CategoryValidation,
	CodeNoDataAvailable:    CategoryData,
	CodeParsingFailed:      CategoryData,
	CodeInvalidPeriod:      CategoryTechnicalAnalysis,
	CodeInsufficientData:   CategoryTechnicalAnalysis,
	CodeInvalidSignalType:  CategoryExecution,
	CodeInvalidPrice:       CategoryExecution,
	CodeInvalidDate:        CategoryExecution,
	CodeHoldSignal:         CategoryExecution,
	CodeNoPosition:         CategoryExecution,
	CodeInsufficientFunds:  CategoryExecution,
	CodeOrderFailed:        CategoryExecution,
	CodeInvalidProgress:    CategoryProgress,
	CodeSimulationFailed:   CategoryEngine,
	CodeAllocationFailed:   CategoryEngine,
	CodeWorkerFailed:       CategorySystem,
	CodeWorkerTimeout:      CategorySystem,
	CodeSpawnFailed:        CategorySystem,
	CodeIOFailed:           CategorySystem,
}

// Category returns the coarse category a code belongs to.
func (c Code) Category() Category {
	if cat, ok := categories[c]; ok {
		return cat
	}
	return CategorySystem
}

// Error is the single error value the module surfaces.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is matches two taxonomy errors by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New builds an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy code to an underlying error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetail records a structured detail on the error and returns it.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the taxonomy code from an error chain. Errors outside
// the taxonomy report as system failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeIOFailed
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
