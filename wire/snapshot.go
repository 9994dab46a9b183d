// Package wire defines the envelope serialized states travel and rest in.
// A Snapshot carries the state text with its inline function table and a
// content hash; envelopes are exchanged as canonical CBOR.
package wire

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/resumable/serial"
)

// FormatVersion is stored with every envelope. Readers reject other versions.
const FormatVersion = 1

// ErrHashMismatch is returned by Verify when the state does not match the
// recorded hash.
var ErrHashMismatch = errors.New("wire: state hash mismatch")

// SyncFn is one entry of the inline function table. Only the source travels;
// the live function is rebuilt by the resuming side.
type SyncFn struct {
	Source string `cbor:"1,keyasint"`
	Args   int    `cbor:"2,keyasint,omitempty"`
}

// Snapshot is a serialized state plus the metadata needed to store and
// resume it.
type Snapshot struct {
	ID        string   `cbor:"1,keyasint"`
	Version   uint8    `cbor:"2,keyasint"`
	State     string   `cbor:"3,keyasint"`
	SyncFns   []SyncFn `cbor:"4,keyasint,omitempty"`
	Hash      [32]byte `cbor:"5,keyasint"`
	CreatedAt int64    `cbor:"6,keyasint"` // unix milliseconds
	Roots     int      `cbor:"7,keyasint"`
}

// NewSnapshot wraps an encoder result under a fresh id.
func NewSnapshot(res *serial.Result) *Snapshot {
	s := &Snapshot{
		ID:        uuid.New().String(),
		Version:   FormatVersion,
		State:     res.State,
		Hash:      sha256.Sum256([]byte(res.State)),
		CreatedAt: time.Now().UnixMilli(),
		Roots:     res.Roots,
	}
	for _, fn := range res.SyncFns {
		s.SyncFns = append(s.SyncFns, SyncFn{Source: fn.Source, Args: fn.Args})
	}
	return s
}

// Verify checks the version and recomputes the content hash.
func (s *Snapshot) Verify() error {
	if s.Version != FormatVersion {
		return fmt.Errorf("wire: unsupported snapshot version %d", s.Version)
	}
	if _, err := uuid.Parse(s.ID); err != nil {
		return fmt.Errorf("wire: bad snapshot id %q: %w", s.ID, err)
	}
	if computed := sha256.Sum256([]byte(s.State)); computed != s.Hash {
		return fmt.Errorf("%w: declared %x, computed %x", ErrHashMismatch, s.Hash, computed)
	}
	return nil
}

// Functions rebuilds the inline function table. compile turns a source into
// a live function; a nil compile leaves Fn unset.
func (s *Snapshot) Functions(compile func(source string, args int) (func(...any) any, error)) ([]*serial.SyncFunc, error) {
	fns := make([]*serial.SyncFunc, len(s.SyncFns))
	for i, e := range s.SyncFns {
		fn := &serial.SyncFunc{Source: e.Source, Args: e.Args}
		if compile != nil {
			live, err := compile(e.Source, e.Args)
			if err != nil {
				return nil, fmt.Errorf("wire: sync function %d: %w", i, err)
			}
			fn.Fn = live
		}
		fns[i] = fn
	}
	return fns, nil
}

// Open verifies the snapshot and returns a decoding container over it.
func (s *Snapshot) Open(opts ...serial.ContainerOption) (*serial.Container, error) {
	if err := s.Verify(); err != nil {
		return nil, err
	}
	fns, err := s.Functions(nil)
	if err != nil {
		return nil, err
	}
	return serial.NewContainer(s.State, append([]serial.ContainerOption{serial.WithSyncFns(fns)}, opts...)...)
}

// EmbedScript renders the state as the script element a page carries for
// resumption. State text never contains "</", so it is embedded verbatim.
func EmbedScript(state string) string {
	var b strings.Builder
	b.Grow(len(state) + 48)
	b.WriteString(`<script type="qwik/state">`)
	b.WriteString(state)
	b.WriteString(`</script>`)
	return b.String()
}
