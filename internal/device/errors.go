package device

import (
	"errors"
	"fmt"
)

// ValidationError reports input that breaks an operation's basic contract.
// The caller can always fix it by changing the request.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return "device: " + e.Reason
	}
	return "device: " + e.Reason + ": " + e.Message
}

// Is matches any ValidationError carrying the same reason code.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}

// BusinessError reports a well-formed request that violates a domain rule
// given the current stored state.
type BusinessError struct {
	Reason  string
	Message string

	// Details lists the offending items when there is more than one,
	// e.g. the attributes that are not configurable.
	Details []string
}

func (e *BusinessError) Error() string {
	if e.Message == "" {
		return "device: " + e.Reason
	}
	return "device: " + e.Reason + ": " + e.Message
}

// Is matches any BusinessError carrying the same reason code.
func (e *BusinessError) Is(target error) bool {
	t, ok := target.(*BusinessError)
	return ok && t.Reason == e.Reason
}

// Business rule violations.
var (
	ErrInvalidDeviceID     = &BusinessError{Reason: "invalid-deviceId"}
	ErrLabelInUse          = &BusinessError{Reason: "label-already-in-use"}
	ErrNoTemplates         = &BusinessError{Reason: "no-templates-assigned"}
	ErrTemplateNotFound    = &BusinessError{Reason: "template-id-does-not-exist"}
	ErrDuplicatedAttribute = &BusinessError{Reason: "duplicated-attribute-across-templates"}
	ErrDeviceNotFound      = &BusinessError{Reason: "device-not-found"}
	ErrDeviceIDInUse       = &BusinessError{Reason: "device-id-already-in-use"}
	ErrAttributeNotFound   = &BusinessError{Reason: "attribute-not-found"}
	ErrPSKNotFound         = &BusinessError{Reason: "psk-not-found"}
	ErrNotActuator         = &BusinessError{Reason: "attribute-not-actuator"}
	ErrTemplateInUse       = &BusinessError{Reason: "template-in-use"}
	ErrTemplateNotAttached = &BusinessError{Reason: "template-not-attached"}
	ErrUnknownOverride     = &BusinessError{Reason: "unknown-override-attribute"}
	ErrDuplicatedAttrLabel = &BusinessError{Reason: "duplicated-attribute-label"}
)

// Malformed input.
var (
	ErrInvalidBatchPrefix    = &ValidationError{Reason: "invalid-batch-prefix"}
	ErrInvalidBatchQuantity  = &ValidationError{Reason: "invalid-batch-quantity"}
	ErrInvalidBatchSuffix    = &ValidationError{Reason: "invalid-batch-suffix"}
	ErrInvalidBatchTemplates = &ValidationError{Reason: "invalid-batch-templates"}
	ErrInvalidBatchTenant    = &ValidationError{Reason: "invalid-batch-tenant"}
	ErrInvalidKeyLength      = &ValidationError{Reason: "invalid-key-length"}
	ErrInvalidPSKTargets     = &ValidationError{Reason: "invalid-psk-targets"}
	ErrAttributeNotPSK       = &ValidationError{Reason: "attribute-not-psk"}
	ErrInvalidPayload        = &ValidationError{Reason: "invalid-payload"}
	ErrInvalidAttribute      = &ValidationError{Reason: "invalid-attribute"}
	ErrMetadataTooDeep       = &ValidationError{Reason: "metadata-too-deep"}
	ErrRepeatedAttribute     = &ValidationError{Reason: "repeated-attribute"}
	ErrInvalidCount          = &ValidationError{Reason: "invalid-count"}
	ErrVerboseWithCount      = &ValidationError{Reason: "verbose-requires-single-device"}
	ErrInvalidPagination     = &ValidationError{Reason: "invalid-pagination"}
	ErrInvalidSort           = &ValidationError{Reason: "invalid-sort"}
	ErrInvalidLabel          = &ValidationError{Reason: "invalid-label"}
)

var (
	// ErrIDSpaceExhausted is returned when no free device id was found.
	// It is an infrastructure failure, not a caller error.
	ErrIDSpaceExhausted = errors.New("device: no free device id found")

	// ErrNoPSKAttributes signals that a device has nothing to generate keys
	// for. It is an empty result rather than a failure.
	ErrNoPSKAttributes = errors.New("device: no psk attributes")
)

// withDetail returns a copy of a reason sentinel carrying a specific message.
// The copy still matches the sentinel with errors.Is.
func withDetail(sentinel error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var v *ValidationError
	if errors.As(sentinel, &v) {
		return &ValidationError{Reason: v.Reason, Message: msg}
	}
	var b *BusinessError
	if errors.As(sentinel, &b) {
		return &BusinessError{Reason: b.Reason, Message: msg}
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

// Reason returns the machine readable reason code carried by err, or "" when
// err is neither a ValidationError nor a BusinessError.
func Reason(err error) string {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Reason
	}
	var b *BusinessError
	if errors.As(err, &b) {
		return b.Reason
	}
	return ""
}

// IsBusiness reports whether err is a domain rule violation.
func IsBusiness(err error) bool {
	var b *BusinessError
	return errors.As(err, &b)
}

// IsValidation reports whether err is malformed input.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err means the addressed entity is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDeviceNotFound) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrAttributeNotFound) ||
		errors.Is(err, ErrPSKNotFound)
}
