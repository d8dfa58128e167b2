// Package logging provides structured logging for the node server.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the session layer and the
// device types hosted on it.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version, profile) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// Output defaults to stderr. The gateway owns the process's stdin for the
// startup line, and stdout is kept free for it as well.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0", params.Profile())
//	logger.Info("snapshot reconciled", "devices", 4)
//	logger.Error("publish failed", "error", err)
package logging
