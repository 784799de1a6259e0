// Package log provides roomledger's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by
// log/slog via a custom handler that feeds a formatter and a set of outputs.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("consumer"), log.Str("group", "availability"))
//	l.Info("consumer.started", log.Int("batch", 16))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config (level, text or json
// format, output, redacted keys). SetLevel on a logger changes the level of
// every logger derived from it with With, which lets a config reload adjust
// verbosity for the whole process.
//
// # Interop
//
// RedirectStdLog routes the standard library logger into a Logger so that
// libraries that log through package log share the same sink.
package log
