package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"regexp"
	"strings"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation   = "operation"
	KeyCloud       = "cloud"
	KeyDatabase    = "database"
	KeyExecutionID = "execution_id"
	KeyStatement   = "statement"
	KeyNode        = "node"
	KeyPattern     = "pattern"
	KeyUserHash    = "user_hash"
	KeyDuration    = "duration"
	KeyStatus      = "status"
	KeyError       = "error"
	KeyHost        = "host"
)

// Status values for consistent logging.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ipv4Regex matches IPv4 addresses for sanitization.
var ipv4Regex = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)

// ipv6Regex matches IPv6 addresses for sanitization, including the
// bracketed form used in connection strings ([2001:db8::1]).
var ipv6Regex = regexp.MustCompile(`\[?([0-9a-fA-F]{0,4}:){2,7}[0-9a-fA-F]{0,4}\]?`)

// statementPrefixLen is how much statement text is preserved in logs.
// Full statement bodies may contain literals with sensitive data.
const statementPrefixLen = 80

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithCloud returns a logger with the cloud attribute set.
func WithCloud(logger *slog.Logger, cloud string) *slog.Logger {
	return logger.With(slog.String(KeyCloud, cloud))
}

// WithExecution returns a logger with the execution id attribute set.
func WithExecution(logger *slog.Logger, id string) *slog.Logger {
	return logger.With(slog.String(KeyExecutionID, id))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Cloud returns a slog attribute for the cloud name.
func Cloud(name string) slog.Attr {
	return slog.String(KeyCloud, name)
}

// Database returns a slog attribute for the database name.
func Database(name string) slog.Attr {
	return slog.String(KeyDatabase, name)
}

// ExecutionID returns a slog attribute for the execution id.
func ExecutionID(id string) slog.Attr {
	return slog.String(KeyExecutionID, id)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog attribute for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// SanitizedErr returns a slog attribute for an error with IP addresses redacted.
// Driver errors frequently embed the endpoint they failed to reach, which
// could leak cluster topology information into logs.
func SanitizedErr(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, SanitizeHost(err.Error()))
}

// Host returns a slog attribute for a host with IP addresses sanitized.
func Host(host string) slog.Attr {
	return slog.String(KeyHost, SanitizeHost(host))
}

// Pattern returns a slog attribute for a scan pattern.
func Pattern(pattern string) slog.Attr {
	return slog.String(KeyPattern, pattern)
}

// Statement returns a slog attribute carrying a truncated statement prefix.
// Only the leading characters are kept so literals never land in logs whole.
func Statement(text string) slog.Attr {
	text = strings.TrimSpace(text)
	if len(text) > statementPrefixLen {
		text = text[:statementPrefixLen] + "..."
	}
	return slog.String(KeyStatement, text)
}

// AnonymizeUser returns a hashed representation of a user identifier for
// logging purposes. This allows correlation of log entries without exposing
// the identifier itself.
func AnonymizeUser(userID string) string {
	if userID == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(userID))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns a slog attribute with the anonymized user identifier.
func UserHash(userID string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeUser(userID))
}

// SanitizeHost returns a sanitized version of the host for logging purposes.
// IP addresses (both IPv4 and IPv6) are redacted to keep network topology
// out of logs while preserving enough context for debugging.
//
// Examples:
//   - "10.12.0.7:5432" -> "<redacted-ip>:5432"
//   - "pg.cluster.example.com:5432" -> "pg.cluster.example.com:5432"
//   - "[2001:db8::1]:6379" -> "<redacted-ip>:6379"
//   - "" -> "<empty>"
func SanitizeHost(host string) string {
	if host == "" {
		return "<empty>"
	}
	result := ipv4Regex.ReplaceAllString(host, "<redacted-ip>")
	result = ipv6Regex.ReplaceAllString(result, "<redacted-ip>")
	return result
}

// SanitizePassword returns a masked placeholder for a password value.
// It returns a length indicator without exposing any content.
func SanitizePassword(password string) string {
	if password == "" {
		return "<empty>"
	}
	return "[redacted]"
}
