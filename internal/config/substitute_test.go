package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPlaceholders(t *testing.T) {
	env := map[string]string{
		"PG_USER": "app",
		"PG_HOST": "pg.example.com",
	}
	lookup := func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}

	t.Run("env substitution", func(t *testing.T) {
		out, err := ExpandPlaceholders(
			[]byte(`{"user": "${PG_USER}", "host": "${PG_HOST}"}`), lookup, t.TempDir())
		require.NoError(t, err)
		assert.JSONEq(t, `{"user": "app", "host": "pg.example.com"}`, string(out))
	})

	t.Run("missing env variable is an error", func(t *testing.T) {
		_, err := ExpandPlaceholders([]byte(`{"user": "${NOPE}"}`), lookup, t.TempDir())
		assert.ErrorContains(t, err, "NOPE")
	})

	t.Run("secret substitution", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "pg"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "pg", "password"), []byte("s3cret\n"), 0o600))

		out, err := ExpandPlaceholders([]byte(`{"password": "${SECRET:pg:password}"}`), lookup, dir)
		require.NoError(t, err)
		assert.JSONEq(t, `{"password": "s3cret"}`, string(out))
	})

	t.Run("missing secret is an error", func(t *testing.T) {
		_, err := ExpandPlaceholders([]byte(`{"password": "${SECRET:pg:missing}"}`), lookup, t.TempDir())
		assert.ErrorContains(t, err, "pg/missing")
	})

	t.Run("secret values are JSON escaped", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "pg"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "pg", "password"), []byte(`pa"ss\word`), 0o600))

		out, err := ExpandPlaceholders([]byte(`{"password": "${SECRET:pg:password}"}`), lookup, dir)
		require.NoError(t, err)
		assert.JSONEq(t, `{"password": "pa\"ss\\word"}`, string(out))
	})

	t.Run("text without placeholders passes through", func(t *testing.T) {
		in := []byte(`{"host": "static.example.com", "price": "$100"}`)
		out, err := ExpandPlaceholders(in, lookup, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})
}
