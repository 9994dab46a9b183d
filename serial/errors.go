package serial

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error Types
// ---------------------------------------------------------------------------

var (
	// Encoder side.
	ErrUnsupportedType    = errors.New("unsupported value type")
	ErrSerializerRejected = errors.New("custom serializer promise rejected")
	ErrMaxDepth           = errors.New("maximum nesting depth exceeded")
	ErrUnresolvedChunk    = errors.New("cannot resolve chunk for symbol")
	ErrUnresolvedSymbol   = errors.New("symbol is not registered")

	// Decoder side.
	ErrUnknownType   = errors.New("cannot allocate/inflate unknown type")
	ErrMissingRoot   = errors.New("missing root id")
	ErrOutOfBounds   = errors.New("object id out of bounds")
	ErrCorruptData   = errors.New("corrupt state data")
	ErrMissingSyncFn = errors.New("sync function not available")
)

// UnsupportedTypeError reports a value the encoder has no tag for. Path is
// the position of the value in the output, e.g. "root 3 > 2 > 0".
type UnsupportedTypeError struct {
	Type   string
	Path   string
	Reason string
}

func (e *UnsupportedTypeError) Error() string {
	msg := fmt.Sprintf("serial: cannot serialize value of type %s", e.Type)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Path != "" {
		msg += " at " + e.Path
	}
	return msg
}

// Unwrap lets callers match the error with errors.Is(err, ErrUnsupportedType).
func (e *UnsupportedTypeError) Unwrap() error {
	return ErrUnsupportedType
}
