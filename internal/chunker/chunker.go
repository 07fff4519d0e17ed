// Package chunker splits extracted text into overlapping windows.
package chunker

import "fmt"

// Config controls how text is split. Sizes are counted in runes.
type Config struct {
	Separator string
	Size      int
	Overlap   int
}

// ConfigError reports chunking parameters that cannot produce chunks.
type ConfigError struct {
	Size    int
	Overlap int
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid chunk config (size=%d, overlap=%d): %s", e.Size, e.Overlap, e.Reason)
}

// Validate reports whether c can be used by Split.
func (c Config) Validate() error {
	switch {
	case c.Size <= 0:
		return &ConfigError{Size: c.Size, Overlap: c.Overlap, Reason: "size must be positive"}
	case c.Overlap < 0:
		return &ConfigError{Size: c.Size, Overlap: c.Overlap, Reason: "overlap must not be negative"}
	case c.Overlap >= c.Size:
		return &ConfigError{Size: c.Size, Overlap: c.Overlap, Reason: "overlap must be smaller than size"}
	}
	return nil
}

// Split cuts text into chunks of at most cfg.Size runes. Every chunk after
// the first begins with the last cfg.Overlap runes of the one before it.
// A chunk ends at the last separator inside its window when that separator
// lies past the overlap region, otherwise at the window edge. Empty text
// yields no chunks.
func Split(text string, cfg Config) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	n := len(runes)
	chunks := []string{}
	if n == 0 {
		return chunks, nil
	}
	sep := []rune(cfg.Separator)

	start := 0
	for {
		limit := min(start+cfg.Size, n)
		if limit == n {
			chunks = append(chunks, string(runes[start:n]))
			return chunks, nil
		}

		end := limit
		if p := lastIndex(runes[start:limit], sep); p >= 0 && start+p > start+cfg.Overlap {
			end = start + p
		}
		chunks = append(chunks, string(runes[start:end]))
		start = end - cfg.Overlap
	}
}

// lastIndex returns the index of the last complete occurrence of sep in s,
// or -1.
func lastIndex(s, sep []rune) int {
	if len(sep) == 0 || len(sep) > len(s) {
		return -1
	}
outer:
	for i := len(s) - len(sep); i >= 0; i-- {
		for j, r := range sep {
			if s[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}
