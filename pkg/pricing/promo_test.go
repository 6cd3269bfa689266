package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePromoCodes(t *testing.T) {
	data := []byte(`
promo_codes:
  - code: launch10
    free_worker_limit: 10
  - code: " FRIENDS "
    free_worker_limit: 8
`)
	codes, err := ParsePromoCodes(data)
	require.NoError(t, err)
	assert.Equal(t, 2, codes.Len())

	limit, ok := codes.Lookup("LAUNCH10")
	assert.True(t, ok)
	assert.Equal(t, 10, limit)

	limit, ok = codes.Lookup("friends")
	assert.True(t, ok)
	assert.Equal(t, 8, limit)

	_, ok = codes.Lookup("unknown")
	assert.False(t, ok)
}

func TestParsePromoCodesErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid yaml", "promo_codes: [::"},
		{"missing code", "promo_codes:\n  - free_worker_limit: 3\n"},
		{"zero limit", "promo_codes:\n  - code: A\n    free_worker_limit: 0\n"},
		{"duplicate", "promo_codes:\n  - code: A\n    free_worker_limit: 5\n  - code: a\n    free_worker_limit: 6\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePromoCodes([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadPromoCodes(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		codes, err := LoadPromoCodes("")
		require.NoError(t, err)
		assert.Equal(t, 0, codes.Len())
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "promo.yaml")
		require.NoError(t, os.WriteFile(path, []byte("promo_codes:\n  - code: SPRING\n    free_worker_limit: 12\n"), 0o600))

		codes, err := LoadPromoCodes(path)
		require.NoError(t, err)
		limit, ok := codes.Lookup("spring")
		assert.True(t, ok)
		assert.Equal(t, 12, limit)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPromoCodes(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestNewPromoCodesCopiesInput(t *testing.T) {
	src := map[string]int{"abc": 6}
	codes := NewPromoCodes(src)
	src["abc"] = 99
	src["new"] = 1

	limit, ok := codes.Lookup("ABC")
	assert.True(t, ok)
	assert.Equal(t, 6, limit)
	_, ok = codes.Lookup("new")
	assert.False(t, ok)
}
