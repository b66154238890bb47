// Package component models .tg component sources and parses their sections.
//
// A component file holds up to four named sections (Imports:, Funcoes:, Html:,
// Css:) plus optional directive comments before the first header. Only the
// Html section is mandatory.
package component

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Source is a component source file snapshot. It is created on discovery and
// replaced wholesale when the file changes; it is never mutated in place.
type Source struct {
	Path    string
	Name    string // Component name: base filename without extension
	Raw     string
	Hash    string // Content hash of Raw
	ModTime time.Time
}

// NewSource builds a Source from raw text.
func NewSource(path, raw string, modTime time.Time) *Source {
	return &Source{
		Path:    path,
		Name:    NameFromPath(path),
		Raw:     raw,
		Hash:    HashText(raw),
		ModTime: modTime,
	}
}

// LoadSource reads a component file from disk.
func LoadSource(path string) (*Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return NewSource(path, string(raw), info.ModTime()), nil
}

// NameFromPath derives the component name from a file path.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// HashText returns the content hash used for change detection.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
