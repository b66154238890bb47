// Package style resolves a component's style text. Style text is opaque to
// the engine: never parsed, never templated, only handed to the page layer.
package style

import (
	"os"
	"path/filepath"
	"strings"
)

// Resolve returns the component's style text: the inline Css section when
// non-empty, otherwise the contents of a sibling <name>.css file, otherwise
// an empty string.
func Resolve(cssText, componentPath string) string {
	if strings.TrimSpace(cssText) != "" {
		return cssText
	}
	data, err := os.ReadFile(SiblingPath(componentPath))
	if err != nil {
		return ""
	}
	return string(data)
}

// SiblingPath returns the conventional sibling style file for a component
// path: the same base name with a .css extension.
func SiblingPath(componentPath string) string {
	ext := filepath.Ext(componentPath)
	return strings.TrimSuffix(componentPath, ext) + ".css"
}
