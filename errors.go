package murk

import (
	"errors"
	"fmt"
)

// Code is the flat status enumeration shared across every boundary the
// engine exposes (§7, §6 "Status / error codes"). Binding layers map a Code
// to their own native exception/value convention; nothing richer than this
// enum crosses a foreign boundary.
type Code int

const (
	// Tick family.
	CodePropagatorFailed Code = iota + 1
	CodeAllocationFailed
	CodeTickRollback
	CodeTickDisabled
	CodeDtOutOfRange
	CodeShuttingDown

	// Propagator family.
	CodeExecutionFailed
	CodeNanDetected
	CodeConstraintViolation

	// Ingress family.
	CodeQueueFull
	CodeStale

	// Observation family.
	CodePlanInvalidated
	CodeTimeoutWaitingForTick
	CodeNotAvailable
	CodeInvalidComposition
	CodeInvalidObsSpec
	CodeWorkerStalled

	// Config family.
	CodeConfigError

	// Arena family.
	CodeCapacityExceeded
	CodeStaleHandle
	CodeUnknownField
	CodeNotWritable
	CodeInvalidConfig

	// Pipeline family.
	CodeEmptyPipeline
	CodeWriteConflict
	CodeInvalidMaxDt
	CodeInvalidWriteMode

	// Replay family.
	CodeReplayIO
	CodeInvalidMagic
	CodeUnsupportedVersion
	CodeMalformedFrame
	CodeUnknownPayloadType
	CodeConfigMismatch
	CodeSnapshotMismatch

	// Binding-boundary-only: a panic was recovered.
	CodePanicked
)

func (c Code) String() string {
	switch c {
	case CodePropagatorFailed:
		return "PropagatorFailed"
	case CodeAllocationFailed:
		return "AllocationFailed"
	case CodeTickRollback:
		return "TickRollback"
	case CodeTickDisabled:
		return "TickDisabled"
	case CodeDtOutOfRange:
		return "DtOutOfRange"
	case CodeShuttingDown:
		return "ShuttingDown"
	case CodeExecutionFailed:
		return "ExecutionFailed"
	case CodeNanDetected:
		return "NanDetected"
	case CodeConstraintViolation:
		return "ConstraintViolation"
	case CodeQueueFull:
		return "QueueFull"
	case CodeStale:
		return "Stale"
	case CodePlanInvalidated:
		return "PlanInvalidated"
	case CodeTimeoutWaitingForTick:
		return "TimeoutWaitingForTick"
	case CodeNotAvailable:
		return "NotAvailable"
	case CodeInvalidComposition:
		return "InvalidComposition"
	case CodeInvalidObsSpec:
		return "InvalidObsSpec"
	case CodeWorkerStalled:
		return "WorkerStalled"
	case CodeConfigError:
		return "ConfigError"
	case CodeCapacityExceeded:
		return "CapacityExceeded"
	case CodeStaleHandle:
		return "StaleHandle"
	case CodeUnknownField:
		return "UnknownField"
	case CodeNotWritable:
		return "NotWritable"
	case CodeInvalidConfig:
		return "InvalidConfig"
	case CodeEmptyPipeline:
		return "EmptyPipeline"
	case CodeWriteConflict:
		return "WriteConflict"
	case CodeInvalidMaxDt:
		return "InvalidMaxDt"
	case CodeInvalidWriteMode:
		return "InvalidWriteMode"
	case CodeReplayIO:
		return "Io"
	case CodeInvalidMagic:
		return "InvalidMagic"
	case CodeUnsupportedVersion:
		return "UnsupportedVersion"
	case CodeMalformedFrame:
		return "MalformedFrame"
	case CodeUnknownPayloadType:
		return "UnknownPayloadType"
	case CodeConfigMismatch:
		return "ConfigMismatch"
	case CodeSnapshotMismatch:
		return "SnapshotMismatch"
	case CodePanicked:
		return "Panicked"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned from every murk operation that
// can fail. Element names the offending field/propagator/config key where
// applicable so Config family errors can "name the offending element" as
// §7 requires.
type Error struct {
	Code    Code
	Element string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Element != "" {
		if e.Err != nil {
			return fmt.Sprintf("murk: %s: %s: %v", e.Code, e.Element, e.Err)
		}
		return fmt.Sprintf("murk: %s: %s", e.Code, e.Element)
	}
	if e.Err != nil {
		return fmt.Sprintf("murk: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("murk: %s", e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs an *Error with no wrapped cause.
func NewError(code Code, element string) *Error {
	return &Error{Code: code, Element: element}
}

// WrapError constructs an *Error wrapping a lower-level cause (I/O, codec).
func WrapError(code Code, element string, err error) *Error {
	return &Error{Code: code, Element: element, Err: err}
}

// CodeOf extracts the Code from err, returning false if err is not (or does
// not wrap) a *Error. This is the standard way a binding layer maps an
// error to its native convention.
func CodeOf(err error) (Code, bool) {
	var me *Error
	if errors.As(err, &me) {
		return me.Code, true
	}
	return 0, false
}

// Is supports errors.Is(err, CodeX) style comparisons by treating two
// *Error values as equivalent when their Code matches, regardless of
// Element/wrapped cause. This lets callers write
// errors.Is(err, murk.NewError(murk.CodeStale, "")) without caring about the
// offending element.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}
