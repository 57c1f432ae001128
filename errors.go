package rhi

import (
	"errors"
	"fmt"
)

// Construction errors. These are returned synchronously by factory calls
// and the object is never created.
var (
	// ErrBindingMismatch is returned when a resource does not match the
	// kind or usage required by its binding layout element.
	ErrBindingMismatch = errors.New("rhi: binding resource does not match layout")

	// ErrBindingCount is returned when a binding set does not supply exactly
	// one resource per layout element.
	ErrBindingCount = errors.New("rhi: binding resource count does not match layout")

	// ErrDuplicateSlot is returned when a binding layout names a slot twice.
	ErrDuplicateSlot = errors.New("rhi: duplicate binding layout slot")

	// ErrEmptyStageMask is returned when a binding element is visible to no
	// shader stage.
	ErrEmptyStageMask = errors.New("rhi: binding element has empty shader stage mask")

	// ErrInvalidPipeline is returned for malformed pipeline descriptions.
	ErrInvalidPipeline = errors.New("rhi: invalid pipeline description")

	// ErrInvalidDescriptor is returned for malformed resource descriptors.
	ErrInvalidDescriptor = errors.New("rhi: invalid resource descriptor")

	// ErrInvalidHandle is returned for zero or foreign references.
	ErrInvalidHandle = errors.New("rhi: invalid handle")

	// ErrWrongKind is returned when a reference names a different kind of
	// resource than the operation expects.
	ErrWrongKind = errors.New("rhi: reference has wrong resource kind")
)

// ErrStale is returned when a tracked reference no longer matches the
// generation of its table slot.
var ErrStale = errors.New("rhi: stale resource reference")

// Device fault errors.
var (
	// ErrDeviceFaulted is returned for submissions made while the device is
	// faulted. FaultError values also match it through errors.Is.
	ErrDeviceFaulted = errors.New("rhi: device faulted")

	// ErrDeviceClosed is returned for any call on a closed device.
	ErrDeviceClosed = errors.New("rhi: device closed")
)

// Capacity errors. The caller may retry after freeing resources or waiting
// for outstanding lists to complete.
var (
	// ErrTableFull is returned when the resource table reached its capacity.
	ErrTableFull = errors.New("rhi: resource table full")

	// ErrStagingFull is returned when the staging pool cannot hold an update.
	ErrStagingFull = errors.New("rhi: staging pool full")
)

// Recording errors, latched by the Recorder and returned from End.
var (
	// ErrNotRecording is returned for recorder calls outside Begin/End.
	ErrNotRecording = errors.New("rhi: recorder is not recording")

	// ErrAlreadyRecording is returned by Begin on a recorder that has not
	// been ended.
	ErrAlreadyRecording = errors.New("rhi: recorder is already recording")

	// ErrListSubmitted is returned when an entry list is submitted twice.
	ErrListSubmitted = errors.New("rhi: entry list already submitted")

	// ErrListReleased is returned for an entry list that was released
	// without being submitted.
	ErrListReleased = errors.New("rhi: entry list released")

	// ErrNoPipeline is returned for draws and binds with no pipeline set.
	ErrNoPipeline = errors.New("rhi: no pipeline bound")

	// ErrNoFramebuffer is returned for clears and draws with no framebuffer set.
	ErrNoFramebuffer = errors.New("rhi: no framebuffer bound")

	// ErrBindingSlot is returned when a binding set is bound to a slot the
	// current pipeline does not declare, or with the wrong layout or
	// dynamic offset count.
	ErrBindingSlot = errors.New("rhi: binding set does not fit pipeline slot")

	// ErrUnsupported is returned when recording an operation the backend
	// does not support.
	ErrUnsupported = errors.New("rhi: operation not supported by backend")

	// ErrDebugGroup is returned for unbalanced debug groups.
	ErrDebugGroup = errors.New("rhi: unbalanced debug group")

	// ErrOutOfRange is returned when a recorded range exceeds the extent of
	// the resource it addresses.
	ErrOutOfRange = errors.New("rhi: range exceeds resource extent")

	// ErrUsage is returned when a resource was created without the usage an
	// operation needs.
	ErrUsage = errors.New("rhi: resource usage does not permit operation")
)

// FaultError describes a native call failure during replay. The list that
// hit it is marked Faulted and the device refuses further submissions until
// it is recovered.
type FaultError struct {
	// List is the ID of the entry list that faulted.
	List uint64

	// Entry is the index of the entry whose native call failed, or -1 if the
	// failure happened while submitting the encoded work.
	Entry int

	// Op is the operation of the failing entry.
	Op Op

	// Err is the native error.
	Err error
}

func (e *FaultError) Error() string {
	if e.Entry < 0 {
		return fmt.Sprintf("rhi: device fault submitting list %d: %v", e.List, e.Err)
	}
	return fmt.Sprintf("rhi: device fault in list %d entry %d (%s): %v", e.List, e.Entry, e.Op, e.Err)
}

// Unwrap returns the native error.
func (e *FaultError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDeviceFaulted.
func (e *FaultError) Is(target error) bool { return target == ErrDeviceFaulted }
