// Package logger provides structured logging for guardkit components
// using zerolog.
//
// It supports JSON and console output, log level configuration, and
// component-scoped loggers with structured fields for dependency keys,
// breaker states, and retry attempts.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.WithComponent("circuit-breaker")
//	log.Info("state changed", logger.Fields(logger.FieldKey, "payments"))
package logger
