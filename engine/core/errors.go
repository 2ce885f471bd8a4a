package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a handle is stale or belongs to another arena.
	ErrNotFound = errors.New("resource not found")
	// ErrNotCompiled is returned when compiled passes are requested from a dirty graph.
	ErrNotCompiled = errors.New("render graph is not compiled")
	ErrEmptyGraph  = errors.New("render graph has no passes")
	// ErrUnsupportedPass is returned for pass kinds the graph can describe but not build yet.
	ErrUnsupportedPass = errors.New("unsupported pass kind")

	ErrSuboptimalSurface = errors.New("surface is suboptimal")
	ErrSurfaceOutOfDate  = errors.New("surface is out of date")
	ErrDeviceLost        = errors.New("device lost")

	ErrUnknown = errors.New("unknown")
)

// SuboptimalSurfaceError reports an acquire or present that still worked but
// asks for the swapchain to be rebuilt.
type SuboptimalSurfaceError struct {
	ImageIndex uint32
}

func (e *SuboptimalSurfaceError) Error() string {
	return fmt.Sprintf("surface is suboptimal (image %d)", e.ImageIndex)
}

func (e *SuboptimalSurfaceError) Is(target error) bool {
	return target == ErrSuboptimalSurface
}

// IsPresentationFault tells whether err only requires a resize.
func IsPresentationFault(err error) bool {
	return errors.Is(err, ErrSuboptimalSurface) || errors.Is(err, ErrSurfaceOutOfDate)
}

// DeviceError wraps a failed device call with the operation that produced it.
type DeviceError struct {
	Op     string
	Result string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device: %s failed: %s: %v", e.Op, e.Result, e.Err)
	}
	return fmt.Sprintf("device: %s failed: %s", e.Op, e.Result)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NewDeviceError is a shorthand used by the backends.
func NewDeviceError(op, result string) *DeviceError {
	return &DeviceError{Op: op, Result: result}
}

// ShaderError covers loading, compiling and reflecting a shader stage.
type ShaderError struct {
	Source string
	Stage  string
	Err    error
}

func (e *ShaderError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("shader %s (%s): %v", e.Source, e.Stage, e.Err)
	}
	return fmt.Sprintf("shader %s: %v", e.Source, e.Err)
}

func (e *ShaderError) Unwrap() error {
	return e.Err
}
