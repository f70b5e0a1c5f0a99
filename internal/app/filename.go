package app

import (
	"path/filepath"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// SanitizeFileName strips any path components and transliterates the name to
// ASCII. Non-ASCII characters are transliterated, not rejected, so
// "Война и мир.pdf" becomes "Voina i mir.pdf". The result is recorded as
// metadata only; the blob key never depends on it.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSpace(unidecode.Unidecode(name))
}
