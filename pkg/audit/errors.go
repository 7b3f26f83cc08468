package audit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrInvalidCategory is returned when a category is not in the allowed set
	ErrInvalidCategory = errors.New("invalid audit category")

	// ErrUnsupportedTargetType is returned when a target does not produce an audit record
	ErrUnsupportedTargetType = errors.New("unsupported audit target type")

	// ErrStorageFailure wraps errors raised by the storage port
	ErrStorageFailure = errors.New("audit storage failure")

	// ErrNotFound is returned by readers when a record does not exist
	ErrNotFound = errors.New("audit record not found")

	// ErrIdentifierUnassigned is returned by Identifiable implementations that
	// have not been persisted yet
	ErrIdentifierUnassigned = errors.New("identifier not assigned")
)

// InvalidCategoryTranslationKey is the message key for InvalidCategoryError
const InvalidCategoryTranslationKey = "audit.invalid_category"

// InvalidCategoryError carries the rejected category and the allowed set
type InvalidCategoryError struct {
	Value   string
	Allowed []string
}

func (e *InvalidCategoryError) Error() string {
	return fmt.Sprintf("invalid type: %s. Allowed types: %s", e.Value, strings.Join(e.Allowed, ", "))
}

func (e *InvalidCategoryError) Is(target error) bool {
	return target == ErrInvalidCategory
}

// TranslationKey returns the catalog key for user-facing rendering
func (e *InvalidCategoryError) TranslationKey() string {
	return InvalidCategoryTranslationKey
}

// TranslationParams returns the placeholders for TranslationKey
func (e *InvalidCategoryError) TranslationParams() map[string]string {
	return map[string]string{
		"%type%":    e.Value,
		"%allowed%": strings.Join(e.Allowed, ", "),
	}
}

// StatusCode maps the error to a 400 response
func (e *InvalidCategoryError) StatusCode() int {
	return http.StatusBadRequest
}

// UnsupportedTargetTypeError is returned when a target name is unknown or its
// factory does not produce a RecordEntity
type UnsupportedTargetTypeError struct {
	Target string
	Type   string
}

func (e *UnsupportedTargetTypeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("unknown audit target %q", e.Target)
	}
	return fmt.Sprintf("audit target %q of type %s must implement RecordEntity", e.Target, e.Type)
}

func (e *UnsupportedTargetTypeError) Is(target error) bool {
	return target == ErrUnsupportedTargetType
}

// StatusCode maps the error to a 400 response
func (e *UnsupportedTargetTypeError) StatusCode() int {
	return http.StatusBadRequest
}

// StorageError wraps a failure of the storage port
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to store audit record: %v", e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

// TranslatedError carries a localized message for an error while keeping the
// original reachable through errors.Is and errors.As.
type TranslatedError struct {
	Message string
	Err     error
}

func (e *TranslatedError) Error() string {
	return e.Message
}

func (e *TranslatedError) Unwrap() error {
	return e.Err
}

// StatusCoder is implemented by errors that carry an HTTP status code
type StatusCoder interface {
	StatusCode() int
}

// HTTPError is an error with an HTTP status code
type HTTPError struct {
	Status  int
	Message string
}

// NewHTTPError creates an HTTPError. An empty message uses the status text.
func NewHTTPError(status int, message string) *HTTPError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &HTTPError{Status: status, Message: message}
}

func (e *HTTPError) Error() string {
	return e.Message
}

func (e *HTTPError) StatusCode() int {
	return e.Status
}

// StatusCodeOf returns the status code of the first StatusCoder in err's chain
func StatusCodeOf(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}

// HTTPStatus maps err to a response status: 400 for validation errors, 404
// for missing records, the carried code for StatusCoders, else 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidCategory), errors.Is(err, ErrUnsupportedTargetType):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	}
	if code, ok := StatusCodeOf(err); ok {
		return code
	}
	return http.StatusInternalServerError
}
