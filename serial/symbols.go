package serial

import (
	"fmt"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// SymbolRegistry: symbol name -> live value, symbol name -> chunk
// ---------------------------------------------------------------------------

// SymbolRegistry maps QRL symbols to their live values and to the chunks
// that define them. One registry serves a single build or dev-server session
// and is passed explicitly to the encoder and the decoding container.
type SymbolRegistry struct {
	mu      sync.RWMutex
	symbols map[string]any
	chunks  map[string]string
}

// NewSymbolRegistry creates an empty registry.
func NewSymbolRegistry() *SymbolRegistry {
	return &SymbolRegistry{
		symbols: make(map[string]any),
		chunks:  make(map[string]string),
	}
}

// Register records the live value of a symbol. Nil values are ignored.
func (r *SymbolRegistry) Register(symbol string, fn any) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.symbols[symbol] = fn
	r.mu.Unlock()
}

// Lookup returns the live value of a symbol.
func (r *SymbolRegistry) Lookup(symbol string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.symbols[symbol]
	return fn, ok
}

// SetChunk records the chunk that defines symbol.
func (r *SymbolRegistry) SetChunk(symbol, chunk string) {
	r.mu.Lock()
	r.chunks[symbol] = chunk
	r.mu.Unlock()
}

// ResolveChunk returns the chunk for symbol. It has the shape of a
// ChunkResolver.
func (r *SymbolRegistry) ResolveChunk(symbol string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if chunk, ok := r.chunks[symbol]; ok {
		return chunk, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnresolvedChunk, symbol)
}

// Symbols returns all registered symbol names, sorted.
func (r *SymbolRegistry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.symbols))
	for name := range r.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered symbols.
func (r *SymbolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.symbols)
}
