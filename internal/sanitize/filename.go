// Package sanitize cleans client-supplied filenames before they are used in
// storage keys or Content-Disposition headers.
package sanitize

import (
	"path"
	"strings"
	"unicode/utf8"
)

const (
	// MaxFilenameLen matches the common filesystem component limit.
	MaxFilenameLen = 255

	fallbackName = "file"
)

// blockedExtensions are executable formats rejected at manifest validation.
var blockedExtensions = map[string]struct{}{
	".exe": {}, ".bat": {}, ".cmd": {}, ".com": {},
	".scr": {}, ".pif": {}, ".vbs": {}, ".vbe": {},
	".wsf": {}, ".wsh": {}, ".msi": {}, ".hta": {},
	".lnk": {}, ".cpl": {}, ".inf": {}, ".reg": {},
}

// ExtensionBlocked reports whether the filename carries a blocked extension.
// The check runs on the sanitized name so a crafted path cannot hide it.
func ExtensionBlocked(name string) bool {
	ext := strings.ToLower(path.Ext(Filename(name)))
	_, blocked := blockedExtensions[ext]
	return blocked
}

// Filename strips path separators and control characters, removes leading
// dots, and caps the length at MaxFilenameLen while keeping the extension.
// An input that sanitizes to nothing yields a non-empty fallback name.
func Filename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '/' || r == '\\':
			// Path separators collapse entirely so "../../etc/passwd"
			// cannot reconstruct a traversal after trimming.
		case r < 0x20 || r == 0x7f:
			// Control characters would corrupt headers and keys.
		default:
			b.WriteRune(r)
		}
	}

	// Trim dots and whitespace until stable; " .bashrc" must not keep its
	// dot behind the stripped space.
	out := b.String()
	for {
		trimmed := strings.TrimSpace(strings.TrimLeft(out, "."))
		if trimmed == out {
			break
		}
		out = trimmed
	}
	if out == "" {
		return fallbackName
	}

	if len(out) > MaxFilenameLen {
		ext := path.Ext(out)
		if len(ext) >= MaxFilenameLen {
			ext = ""
		}
		stem := out[:MaxFilenameLen-len(ext)]
		// The byte cut may land inside a multibyte rune; back up to a
		// boundary so headers and keys stay valid UTF-8.
		for len(stem) > 0 && !utf8.ValidString(stem) {
			stem = stem[:len(stem)-1]
		}
		out = stem + ext
	}
	if out == "" {
		return fallbackName
	}
	return out
}
