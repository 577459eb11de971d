// Package logging provides structured logging for devio.
//
// This package wraps Go's standard log/slog package so every component logs
// the same way.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	registry.SetLogger(logger.Component("device"))
//	logger.WithDevice(4, 0, "tty0").Warn("buffer full")
//
// Never log secrets such as the MQTT password or InfluxDB token.
package logging
