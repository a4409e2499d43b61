package detect

import "fmt"

// DecodeError reports an inbound frame payload that could not be decoded
// into a raster image. It is never fatal to a session.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("frame decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EngineError reports a failure inside the external detection engine.
// Callers treat it as an empty detection set for the frame.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("detection engine: %v", e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }
