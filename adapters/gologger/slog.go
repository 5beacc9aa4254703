package gologger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// SlogLogger satisfies glog.Logger on top of a slog handler.
type SlogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SlogLogger{logger: logger, ctx: context.Background()}
}

// NewConsoleLogger writes text records to w; verbose enables debug and trace.
func NewConsoleLogger(w io.Writer, verbose bool) *SlogLogger {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if verbose {
		level = levelTrace
	}
	return NewSlogLogger(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(levelName(lvl))
				}
			}
			return a
		},
	})))
}

const (
	levelTrace = slog.LevelDebug - 4
	levelFatal = slog.LevelError + 4
)

func (l *SlogLogger) Trace(msg string, args ...any) { l.log(levelTrace, msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// Fatal logs at the highest level. It does not exit the process.
func (l *SlogLogger) Fatal(msg string, args ...any) { l.log(levelFatal, msg, args...) }

func (l *SlogLogger) WithContext(ctx context.Context) glog.Logger {
	if l == nil {
		return NewSlogLogger(nil).WithContext(ctx)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &SlogLogger{logger: l.logger, ctx: ctx}
}

// Named returns a child logger tagged with the component name.
func (l *SlogLogger) Named(name string) *SlogLogger {
	if l == nil {
		return NewSlogLogger(nil).Named(name)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &SlogLogger{logger: l.logger.With("logger", name), ctx: l.ctx}
}

func (l *SlogLogger) log(level slog.Level, msg string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	ctx := l.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	l.logger.Log(ctx, level, msg, args...)
}

// SlogProvider hands out named children of one SlogLogger.
type SlogProvider struct {
	root *SlogLogger
}

func NewSlogProvider(root *SlogLogger) *SlogProvider {
	if root == nil {
		root = NewSlogLogger(nil)
	}
	return &SlogProvider{root: root}
}

func (p *SlogProvider) GetLogger(name string) glog.Logger {
	if p == nil {
		return glog.Nop()
	}
	return p.root.Named(name)
}

func levelName(level slog.Level) string {
	switch {
	case level <= levelTrace:
		return "TRACE"
	case level >= levelFatal:
		return "FATAL"
	default:
		return level.String()
	}
}

var (
	_ glog.Logger         = (*SlogLogger)(nil)
	_ glog.LoggerProvider = (*SlogProvider)(nil)
)
