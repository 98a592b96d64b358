package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFilename_TraversalStripped(t *testing.T) {
	got := Filename("../../etc/passwd")
	if strings.ContainsAny(got, "/\\") {
		t.Fatalf("sanitized name contains path separator: %q", got)
	}
	if strings.HasPrefix(got, ".") {
		t.Fatalf("sanitized name starts with a dot: %q", got)
	}
	if got != "etcpasswd" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestFilename_EmptyFallback(t *testing.T) {
	for _, in := range []string{"", "...", "///", "\x00\x01"} {
		if got := Filename(in); got == "" {
			t.Fatalf("Filename(%q) must yield a non-empty fallback", in)
		}
	}
}

func TestFilename_DotsBehindWhitespaceTrimmed(t *testing.T) {
	tests := []string{" .bashrc", ". .bashrc", ".\t.hidden", " . . secret"}
	for _, in := range tests {
		got := Filename(in)
		if strings.HasPrefix(got, ".") || strings.HasPrefix(got, " ") {
			t.Fatalf("Filename(%q) = %q, leading dot or space survived", in, got)
		}
	}
}

func TestFilename_ControlCharsRemoved(t *testing.T) {
	got := Filename("re\x00port\n.pdf")
	if got != "report.pdf" {
		t.Fatalf("control characters survived: %q", got)
	}
}

func TestFilename_LongNameTruncatedKeepingExtension(t *testing.T) {
	in := strings.Repeat("a", 300) + ".tar.gz"
	got := Filename(in)
	if len(got) > MaxFilenameLen {
		t.Fatalf("length %d exceeds cap %d", len(got), MaxFilenameLen)
	}
	if !strings.HasSuffix(got, ".gz") {
		t.Fatalf("extension lost during truncation: %q", got)
	}
}

func TestFilename_TruncationKeepsValidUTF8(t *testing.T) {
	in := strings.Repeat("é", 300) + ".txt"
	got := Filename(in)
	if len(got) > MaxFilenameLen {
		t.Fatalf("length %d exceeds cap %d", len(got), MaxFilenameLen)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune: %q", got)
	}
	if !strings.HasSuffix(got, ".txt") {
		t.Fatalf("extension lost during truncation: %q", got)
	}
}

func TestExtensionBlocked(t *testing.T) {
	tests := []struct {
		name    string
		blocked bool
	}{
		{"report.pdf", false},
		{"setup.exe", true},
		{"SETUP.EXE", true},
		{"archive.tar.gz", false},
		{"../evil.bat", true},
		{"noext", false},
	}
	for _, tt := range tests {
		if got := ExtensionBlocked(tt.name); got != tt.blocked {
			t.Fatalf("ExtensionBlocked(%q) = %v, want %v", tt.name, got, tt.blocked)
		}
	}
}
