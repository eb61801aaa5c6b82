package util

import (
	"errors"
	"strings"
	"unicode"
)

// ErrInvalidFileName is returned when a name is empty or tries to traverse paths.
var ErrInvalidFileName = errors.New("invalid file name")

// SanitizeFileName removes path separators and control characters and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrInvalidFileName
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return "", ErrInvalidFileName
	}
	return s, nil
}

// StripExtension returns name without its final extension. Names without a
// dot, or with only a leading dot, are returned unchanged.
func StripExtension(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name
	}
	return name[:idx]
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
