// Package logging provides structured logging for the serial bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the bridge components.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Optional append-only log file
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/graylogic/serial.log"
//
// # Usage
//
//	logger, err := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("session started", "device_id", "ele_001")
//
// Never log secrets, tokens or passwords.
package logging
