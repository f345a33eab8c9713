package emu

import "fmt"

// RegError reports a failed register access, carrying the register index
// and the engine's underlying error.
type RegError struct {
	Reg   int
	Write bool
	Cause error
}

func (e *RegError) Error() string {
	op := "read"
	if e.Write {
		op = "write"
	}
	if e.Cause != nil {
		return fmt.Sprintf("failed to %s register %d: %s", op, e.Reg, e.Cause)
	}
	return fmt.Sprintf("failed to %s register %d", op, e.Reg)
}

func (e *RegError) Unwrap() error { return e.Cause }

// MapError reports a failed mapping operation, carrying the requested
// address and, where the engine surfaced one, the underlying error.
type MapError struct {
	Addr  GuestAddr
	Op    string
	Cause error
}

func (e *MapError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to %s %#x: %s", e.Op, e.Addr, e.Cause)
	}
	return fmt.Sprintf("failed to %s %#x", e.Op, e.Addr)
}

func (e *MapError) Unwrap() error { return e.Cause }
