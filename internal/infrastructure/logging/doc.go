// Package logging provides structured logging for the KNX bridge.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version attributes. Configured from config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	bus.SetLogger(logger.Component("busclient"))
//
// Never log MQTT or InfluxDB credentials.
package logging
