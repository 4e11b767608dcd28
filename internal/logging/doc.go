// Package logging provides structured logging utilities for the dbfleet application.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog
//   - Credential and statement masking
//   - Host sanitization for security
//   - Consistent attribute naming across the codebase
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "sql.execute")
//	logger.Info("dispatching batch",
//	    logging.Cloud("aws-primary"),
//	    logging.Database("mydb"))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("pool connected",
//	    logging.Host(cfg.Host))
//
// # Security Considerations
//
// This package is designed with security in mind:
//   - User identifiers are hashed to prevent PII leakage while allowing correlation
//   - Cluster endpoints have IP addresses redacted to prevent topology leakage
//   - Passwords are never logged; statement text is truncated to a short prefix
package logging
