package device

import (
	"errors"
	"fmt"
)

// NotFoundError represents an error when a peripheral or GATT resource is not found
type NotFoundError struct {
	Resource string // "device", "service", "characteristic"
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// FailureKind classifies pipeline failures
type FailureKind string

const (
	// Local preconditions, reported synchronously; the operation is not attempted.
	KindAdapterUnavailable FailureKind = "adapter_unavailable"
	KindUnauthorized       FailureKind = "unauthorized"
	KindBusy               FailureKind = "busy"

	// Remote/radio failures, reported as a terminal state plus a status message.
	KindScanFailed             FailureKind = "scan_failed"
	KindLinkFailed             FailureKind = "link_failed"
	KindDiscoveryFailed        FailureKind = "discovery_failed"
	KindNoNotifyCharacteristic FailureKind = "no_notify_characteristic"
	KindSubscribeWriteError    FailureKind = "subscribe_write_error"
	KindTimeout                FailureKind = "timeout"
)

// RadioError represents a local precondition or remote radio failure.
// Code carries the platform error code when one exists (ScanFailed).
type RadioError struct {
	Kind FailureKind
	Code int
	Err  error
}

func (e *RadioError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s(%d)", msg, e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is allows errors.Is to compare RadioError values by Kind
func (e *RadioError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*RadioError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *RadioError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Predefined sentinel errors, compared by kind
var (
	ErrAdapterUnavailable     = &RadioError{Kind: KindAdapterUnavailable}
	ErrUnauthorized           = &RadioError{Kind: KindUnauthorized}
	ErrBusy                   = &RadioError{Kind: KindBusy}
	ErrScanFailed             = &RadioError{Kind: KindScanFailed}
	ErrLinkFailed             = &RadioError{Kind: KindLinkFailed}
	ErrDiscoveryFailed        = &RadioError{Kind: KindDiscoveryFailed}
	ErrNoNotifyCharacteristic = &RadioError{Kind: KindNoNotifyCharacteristic}
	ErrSubscribeWrite         = &RadioError{Kind: KindSubscribeWriteError}
	ErrTimeout                = &RadioError{Kind: KindTimeout}
)

// NewRadioError wraps cause with the given kind
func NewRadioError(kind FailureKind, cause error) *RadioError {
	return &RadioError{Kind: kind, Err: cause}
}

// Platform errors produced by radio implementations
var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrNotConnected = errors.New("not connected")
	ErrUnsupported  = errors.New("unsupported")
)

// ScanErrorCoder is implemented by platform errors that carry a numeric scan failure code
type ScanErrorCoder interface {
	ScanErrorCode() int
}

// FailureKindOf returns the kind of a RadioError in err's chain, or "" if none
func FailureKindOf(err error) FailureKind {
	var rerr *RadioError
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return ""
}
