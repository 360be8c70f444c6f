package utils

import (
	"path/filepath"
	"strings"
)

// SanitizeFilename reduces a plugin supplied file name to a single
// safe path component.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))

	switch name {
	case "/", ".", "..", "":
		return "unnamed"
	}

	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return '_'
		}
		switch r {
		case ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

// StripNulls removes embedded NUL characters which can not be stored
// in JSON columns or search indexes.
func StripNulls(value string) string {
	if !strings.ContainsRune(value, 0) {
		return value
	}
	return strings.ReplaceAll(value, "\x00", "")
}
