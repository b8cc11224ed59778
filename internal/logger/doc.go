// Package logger provides structured logging for qrplay.
//
// Features:
//   - Levels TRACE, DEBUG, INFO, WARN, ERROR
//   - Component-based filtering
//   - Text, JSON and color output
//   - Size-based rotation for file output
//
// Usage:
//
//	log := logger.WithComponent(logger.ComponentScanner)
//	log.Info("Scanner started", map[string]interface{}{
//		"session": id,
//		"mount":   "reader",
//	})
//
//	cfg := logger.DefaultConfig()
//	cfg.Level = logger.DEBUG
//	cfg.Format = logger.FormatJSON
//	logger.SetGlobalLogger(logger.New(cfg))
//
// Components:
//   - ComponentApp: CLI and process lifecycle
//   - ComponentResolver: link resolution
//   - ComponentScanner: camera lifecycle
//   - ComponentGame: load, play and reveal
//   - ComponentOEmbed: metadata lookups
//   - ComponentClient: HTTP client
//   - ComponentWeb: HTTP front end
package logger
