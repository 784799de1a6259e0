package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
)

// Config declares how a process-wide logger is built.
type Config struct {
	Level  string   `json:"level" yaml:"level"`
	Format string   `json:"format" yaml:"format"`
	Output string   `json:"output" yaml:"output"`
	Redact []string `json:"redact" yaml:"redact"`
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// ApplyConfig builds a logger from cfg. Format is "text" or "json"; Output is
// "stderr" (default), "stdout" or "null".
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	var out Output
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out = NewConsoleOutput()
	case "stdout":
		out = NewWriterOutput(os.Stdout)
	case "null":
		out = NullOutput{}
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}
	l := NewLogger(WithLevel(lvl), WithFormatter(formatter), WithOutput(out)).(*BaseLogger)
	if len(cfg.Redact) > 0 {
		l.slogLogger = newBridgeHandler(l).withRedactions(cfg.Redact).toLogger()
	}
	return l, nil
}

// RedirectStdLog routes the standard library logger (used by Pebble's default
// logger) into logger at info level.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetPrefix("")
	stdlog.SetOutput(stdLogWriter{logger: logger.With(Component("stdlog"))})
}

type stdLogWriter struct {
	logger Logger
}

func (w stdLogWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

var _ io.Writer = stdLogWriter{}
