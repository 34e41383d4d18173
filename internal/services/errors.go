package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient failure")
	ErrDownload      = errors.New("download failure")
	ErrExternalTool  = errors.New("external tool error")
	ErrUpload        = errors.New("upload failure")
	ErrLink          = errors.New("link failure")
)

// ErrorKind names the marker class of an error for structured logs.
type ErrorKind string

const (
	KindUnknown       ErrorKind = "unknown"
	KindValidation    ErrorKind = "validation"
	KindConfiguration ErrorKind = "configuration"
	KindTransient     ErrorKind = "transient"
	KindDownload      ErrorKind = "download"
	KindTransform     ErrorKind = "transform"
	KindUpload        ErrorKind = "upload"
	KindLink          ErrorKind = "link"
)

var markerKinds = []struct {
	marker error
	kind   ErrorKind
}{
	{ErrValidation, KindValidation},
	{ErrConfiguration, KindConfiguration},
	{ErrDownload, KindDownload},
	{ErrExternalTool, KindTransform},
	{ErrUpload, KindUpload},
	{ErrLink, KindLink},
	{ErrTransient, KindTransient},
}

// ServiceError carries the stage context attached by Wrap.
type ServiceError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

func (e *ServiceError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Marker, detail, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Marker, detail)
}

func (e *ServiceError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &ServiceError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// ErrorDetails is the flattened view of an error used for log fields.
type ErrorDetails struct {
	Kind      ErrorKind
	Stage     string
	Operation string
	Message   string
	Cause     error
}

// Details extracts classification and context from err. Errors not built by
// Wrap still get a kind when they wrap one of the markers.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: KindUnknown}
	}
	details := ErrorDetails{Kind: Kind(err), Message: err.Error()}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		details.Stage = svcErr.Stage
		details.Operation = svcErr.Operation
		if svcErr.Message != "" {
			details.Message = svcErr.Message
		}
		details.Cause = svcErr.Cause
	}
	return details
}

// Kind returns the classification of err based on the first matching marker.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, mk := range markerKinds {
		if errors.Is(err, mk.marker) {
			return mk.kind
		}
	}
	return KindUnknown
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage != "" {
		parts = append(parts, stage)
	}
	if operation != "" {
		parts = append(parts, operation)
	}
	if message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
