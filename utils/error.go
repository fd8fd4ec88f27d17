package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrStalePreference is returned when an optimistic preference update loses the version race.
var ErrStalePreference = errors.New("preference was modified concurrently")

// ValidationError is raised before any query runs: missing or malformed input.
type ValidationError struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+e.Fields[k])
	}
	return e.Message + " (" + strings.Join(parts, ", ") + ")"
}

func NewValidationError(message string, fields map[string]string) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

// FieldError is shorthand for a single-field validation failure.
func FieldError(field, tag string) *ValidationError {
	return &ValidationError{Message: "invalid input", Fields: map[string]string{field: tag}}
}

// Domain error codes.
const (
	DomainCodeItemNotFound     = "inventory_item_not_found"
	DomainCodeDuplicateOrder   = "duplicate_order"
	DomainCodeEntryNotPending  = "shopping_entry_not_pending"
	DomainCodePendingExists    = "shopping_entry_pending_exists"
	DomainCodeLockNotObtained  = "lock_not_obtained"
	DomainCodePreferenceBusy   = "preference_conflict"
	DomainCodeNothingToProcess = "nothing_to_process"
)

// DomainError is a descriptive business-rule failure (unknown item, duplicate order, ...).
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DomainError) Error() string { return e.Message }

func NewDomainError(code string, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}
