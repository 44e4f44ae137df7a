package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	ErrCodeSchemaInvalid    ErrCode = "SCHEMA_INVALID"
	ErrCodeSanityFailed     ErrCode = "SANITY_FAILED"
	ErrCodeVersionInvalid   ErrCode = "VERSION_INVALID"
	ErrCodeStorageTransient ErrCode = "STORAGE_TRANSIENT"
	ErrCodeStoragePermanent ErrCode = "STORAGE_PERMANENT"
	ErrCodeRetriesExhausted ErrCode = "RETRIES_EXHAUSTED"
	ErrCodeInvalidParameter ErrCode = "INVALID_PARAMETER"
	ErrCodeUnsupported      ErrCode = "UNSUPPORTED"
	ErrCodeNameUnknown      ErrCode = "NAME_UNKNOWN"
	ErrCodeUnknow           ErrCode = "UNKNOWN"
	ErrCodeInternal         ErrCode = "INTERNAL"
)

type ErrCode string

type ErrorInfo struct {
	HttpStatus int     `json:"-"`
	Code       ErrCode `json:"code"`
	Message    string  `json:"message"`
	Detail     string  `json:"detail,omitempty"`
}

func (e ErrorInfo) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// coded is implemented by the typed pipeline errors below.
type coded interface {
	Info() ErrorInfo
}

// AsErrorInfo flattens any pipeline error into an ErrorInfo suitable for API responses.
func AsErrorInfo(err error) (ErrorInfo, bool) {
	var c coded
	if errors.As(err, &c) {
		return c.Info(), true
	}
	info := ErrorInfo{}
	if errors.As(err, &info) {
		return info, true
	}
	return ErrorInfo{}, false
}

func IsErrCode(err error, code ErrCode) bool {
	if err == nil {
		return false
	}
	if info, ok := AsErrorInfo(err); ok {
		return info.Code == code
	}
	return false
}

func NewUnsupportedError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusNotImplemented, Code: ErrCodeUnsupported, Message: msg}
}

func NewInternalError(err error) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusInternalServerError, Code: ErrCodeInternal, Message: err.Error()}
}

func NewParameterInvalidError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusBadRequest, Code: ErrCodeInvalidParameter, Message: msg}
}

func NewNameUnknownError(name string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusNotFound, Code: ErrCodeNameUnknown, Message: fmt.Sprintf("model: %s not found", name)}
}

// FieldViolation is one schema violation, naming the field and what was expected there.
type FieldViolation struct {
	Field    string `json:"field"`
	Expected string `json:"expected,omitempty"`
	Message  string `json:"message"`
}

func (v FieldViolation) String() string {
	if v.Expected != "" {
		return fmt.Sprintf("%s: %s (expected %s)", v.Field, v.Message, v.Expected)
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// SchemaError carries every violation found in a configuration document.
type SchemaError struct {
	Violations []FieldViolation
}

func (e *SchemaError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return "schema invalid: " + strings.Join(msgs, "; ")
}

func (e *SchemaError) Fields() []string {
	fields := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		fields[i] = v.Field
	}
	return fields
}

func (e *SchemaError) Info() ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusUnprocessableEntity, Code: ErrCodeSchemaInvalid, Message: e.Error()}
}

func NewSchemaError(violations ...FieldViolation) *SchemaError {
	return &SchemaError{Violations: violations}
}

// SanityError reports an artifact that does not match its declared metadata.
type SanityError struct {
	Problems []string
}

func (e *SanityError) Error() string {
	return "sanity check failed: " + strings.Join(e.Problems, "; ")
}

func (e *SanityError) Info() ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusUnprocessableEntity, Code: ErrCodeSanityFailed, Message: e.Error()}
}

// VersionError reports malformed ledger data. It is fatal, never retried.
type VersionError struct {
	Name string
	Raw  string
	Err  error
}

func (e *VersionError) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("version ledger for %s: entry %q: %v", e.Name, e.Raw, e.Err)
	}
	return fmt.Sprintf("version ledger for %s: %v", e.Name, e.Err)
}

func (e *VersionError) Unwrap() error { return e.Err }

func (e *VersionError) Info() ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusInternalServerError, Code: ErrCodeVersionInvalid, Message: e.Error()}
}

// StorageError is a failed object store operation, split into transient and permanent.
type StorageError struct {
	Op        string
	Bucket    string
	Key       string
	Transient bool
	Attempts  int
	Err       error
}

func (e *StorageError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	target := e.Bucket
	if e.Key != "" {
		target = e.Bucket + "/" + e.Key
	}
	msg := fmt.Sprintf("storage %s %s: %s: %v", e.Op, target, kind, e.Err)
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, e.Attempts)
	}
	return msg
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Info() ErrorInfo {
	code := ErrCodeStoragePermanent
	switch {
	case e.Transient && e.Attempts > 0:
		code = ErrCodeRetriesExhausted
	case e.Transient:
		code = ErrCodeStorageTransient
	}
	return ErrorInfo{HttpStatus: http.StatusBadGateway, Code: code, Message: e.Error()}
}

func NewTransientStorageError(op, bucket, key string, err error) *StorageError {
	return &StorageError{Op: op, Bucket: bucket, Key: key, Transient: true, Err: err}
}

func NewPermanentStorageError(op, bucket, key string, err error) *StorageError {
	return &StorageError{Op: op, Bucket: bucket, Key: key, Err: err}
}

// IsTransient reports whether err is a storage error worth retrying.
func IsTransient(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}
