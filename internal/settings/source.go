// Package settings provides the key/value lookup that decides which metrics are exported.
//
// Values are flat dotted keys such as "prometheus.export.bugs". A TOML file may
// spell them as nested tables or as quoted dotted keys; both flatten to the same key.
package settings

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Snapshot is an immutable view of flat settings.
type Snapshot map[string]string

// Bool reports whether key holds the literal true, in any letter case.
// Params: key flat dotted setting name.
// Returns: true only for "true"; absent, "1", "yes" and other values are false.
func (s Snapshot) Bool(key string) bool {
	raw, ok := s[key]
	if !ok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(raw), "true")
}

// Keys returns snapshot keys in sorted order.
// Params: none.
// Returns: sorted key list.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Source yields the current settings snapshot. Implementations must be safe
// for concurrent use.
type Source interface {
	Snapshot() (Snapshot, error)
}

// StaticSource serves a fixed set of values.
type StaticSource map[string]string

// Snapshot returns a copy of the static values.
// Params: none.
// Returns: independent snapshot and nil error.
func (s StaticSource) Snapshot() (Snapshot, error) {
	out := make(Snapshot, len(s))
	for key, value := range s {
		out[key] = value
	}
	return out, nil
}

// FileSource reads settings from a TOML file on every snapshot and decodes
// it again only when the content digest changes.
type FileSource struct {
	path string

	mu     sync.Mutex
	digest [sha256.Size]byte
	cached Snapshot
	loaded bool
}

// NewFileSource creates a source backed by path. The file is read lazily.
// Params: path to a TOML settings file.
// Returns: file-backed source.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: strings.TrimSpace(path)}
}

// Path returns the backing file path.
// Params: none.
// Returns: trimmed settings path.
func (s *FileSource) Path() string {
	return s.path
}

// Snapshot returns the current settings. Edits are picked up even when they
// keep the file size and modification time.
// Params: none.
// Returns: current snapshot or stat/read/decode error.
func (s *FileSource) Snapshot() (Snapshot, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("stat settings %q: %w", s.path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("settings %q is a directory", s.path)
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read settings %q: %w", s.path, err)
	}
	digest := sha256.Sum256(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded && digest == s.digest {
		return s.cached, nil
	}

	snap, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode settings %q: %w", s.path, err)
	}

	s.cached = snap
	s.digest = digest
	s.loaded = true
	return snap, nil
}

// Parse decodes a TOML document into flat dotted keys. Environment
// references are expanded before decoding.
// Params: raw TOML bytes.
// Returns: flattened snapshot or decode error.
func Parse(raw []byte) (Snapshot, error) {
	expanded := os.ExpandEnv(string(raw))

	var doc map[string]any
	if err := toml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, err
	}

	out := make(Snapshot)
	flatten("", doc, out)
	return out, nil
}

func flatten(prefix string, table map[string]any, out Snapshot) {
	for key, value := range table {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}

		switch v := value.(type) {
		case map[string]any:
			flatten(full, v, out)
		case []any:
			// arrays of tables are not settings
		case string:
			out[full] = v
		case bool:
			out[full] = strconv.FormatBool(v)
		default:
			out[full] = fmt.Sprint(v)
		}
	}
}
