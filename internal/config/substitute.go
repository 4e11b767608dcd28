package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultSecretsDir is where ${SECRET:name:key} references are resolved
// from: the key file under the named secret directory.
const DefaultSecretsDir = "/secrets"

// placeholderRegex matches ${VAR} and ${SECRET:name:key} references.
// Variable names follow environment naming; secret names and keys are file
// path segments and must not contain separators.
var placeholderRegex = regexp.MustCompile(`\$\{(SECRET:([A-Za-z0-9_.-]+):([A-Za-z0-9_.-]+)|[A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandPlaceholders substitutes every ${VAR} with the environment value and
// every ${SECRET:name:key} with the contents of <secretsDir>/<name>/<key>.
// Unresolvable references are errors; configuration must never silently run
// with an empty credential.
func ExpandPlaceholders(raw []byte, lookupEnv func(string) (string, bool), secretsDir string) ([]byte, error) {
	var firstErr error
	expanded := placeholderRegex.ReplaceAllFunc(raw, func(match []byte) []byte {
		if firstErr != nil {
			return match
		}
		inner := string(match[2 : len(match)-1])

		if rest, ok := strings.CutPrefix(inner, "SECRET:"); ok {
			name, key, _ := strings.Cut(rest, ":")
			value, err := readSecret(secretsDir, name, key)
			if err != nil {
				firstErr = err
				return match
			}
			return []byte(jsonEscape(value))
		}

		value, ok := lookupEnv(inner)
		if !ok {
			firstErr = fmt.Errorf("environment variable %s referenced in config is not set", inner)
			return match
		}
		return []byte(jsonEscape(value))
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return expanded, nil
}

// readSecret loads one key of a mounted secret.
func readSecret(secretsDir, name, key string) (string, error) {
	path := filepath.Join(secretsDir, name, key)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret %s/%s: %w", name, key, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// jsonEscape escapes characters that would break the surrounding JSON string
// literal the placeholder sits inside.
func jsonEscape(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return replacer.Replace(s)
}
