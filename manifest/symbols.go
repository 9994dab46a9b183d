package manifest

import (
	"fmt"
	"sort"
	"strings"
)

// ValidateSymbol reports whether name can appear in a QRL reference. The
// reference text is "chunk#symbol[captures]", so a symbol must be non-empty
// and free of '#', brackets and whitespace.
func ValidateSymbol(name string) error {
	if name == "" {
		return fmt.Errorf("empty symbol name")
	}
	if i := strings.IndexAny(name, "#[] \t\n"); i >= 0 {
		return fmt.Errorf("symbol %q contains %q", name, name[i])
	}
	return nil
}

// ValidateChunk reports whether path can be the chunk half of a reference.
func ValidateChunk(path string) error {
	if path == "" {
		return fmt.Errorf("empty chunk path")
	}
	if strings.Contains(path, "#") {
		return fmt.Errorf("chunk %q contains '#'", path)
	}
	return nil
}

// validateSymbols checks the [symbols] table in a stable order so the first
// error reported does not depend on map iteration.
func validateSymbols(symbols map[string]string) error {
	names := make([]string, 0, len(symbols))
	for name := range symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ValidateSymbol(name); err != nil {
			return err
		}
		if err := ValidateChunk(symbols[name]); err != nil {
			return fmt.Errorf("symbol %s: %w", name, err)
		}
	}
	return nil
}
