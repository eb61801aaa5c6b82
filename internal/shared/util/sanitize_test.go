package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFileName(t *testing.T) {
	got, err := SanitizeFileName("  scans/deed\\page 1.pdf ")
	require.NoError(t, err)
	assert.Equal(t, "scans_deed_page 1.pdf", got)

	got, err = SanitizeFileName("bad\x00name.png")
	require.NoError(t, err)
	assert.Equal(t, "badname.png", got)

	_, err = SanitizeFileName("../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidFileName)

	_, err = SanitizeFileName("   ")
	assert.ErrorIs(t, err, ErrInvalidFileName)
}

func TestStripExtension(t *testing.T) {
	assert.Equal(t, "report", StripExtension("report.pdf"))
	assert.Equal(t, "archive.tar", StripExtension("archive.tar.gz"))
	assert.Equal(t, "noext", StripExtension("noext"))
	assert.Equal(t, ".env", StripExtension(".env"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "", Truncate("abc", 0))
	// "é" is two bytes; cutting in the middle backs off to the rune boundary.
	assert.Equal(t, "a", Truncate("aé", 2))
}
