package services

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestFormatDisplayValue(t *testing.T) {
	assert.Equal(t, "1,234,567", formatDisplayValue(int64(1234567)))
	assert.Equal(t, "short", formatDisplayValue("short"))

	long := strings.Repeat("é", 20)
	got := formatDisplayValue(long)
	assert.True(t, utf8.ValidString(got), "clipped value must stay valid UTF-8: %q", got)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, strings.Repeat("é", 15)+"...", got)
}
