package core

import (
	"fmt"
	"io"
	"os"

	glog "github.com/goliatone/go-logger/glog"
)

// RuntimeEnv is the environment an operation reports through: a structured
// logger for diagnostics and a writer for user-facing lines.
type RuntimeEnv struct {
	Logger  Logger
	Out     io.Writer
	Verbose bool
}

func NewRuntimeEnv(logger Logger, out io.Writer, verbose bool) RuntimeEnv {
	return RuntimeEnv{Logger: logger, Out: out, Verbose: verbose}
}

// DefaultRuntimeEnv discards diagnostics and prints to stdout.
func DefaultRuntimeEnv() RuntimeEnv {
	return RuntimeEnv{Logger: glog.Nop(), Out: os.Stdout}
}

func (r RuntimeEnv) Info(message string, args ...any) {
	r.logger().Info(message, args...)
}

func (r RuntimeEnv) Warn(message string, args ...any) {
	r.logger().Warn(message, args...)
}

func (r RuntimeEnv) Error(message string, args ...any) {
	r.logger().Error(message, args...)
}

// Debug only emits when the runtime is verbose.
func (r RuntimeEnv) Debug(message string, args ...any) {
	if !r.Verbose {
		return
	}
	r.logger().Debug(message, args...)
}

func (r RuntimeEnv) Println(line string) {
	if r.Out == nil {
		return
	}
	_, _ = fmt.Fprintln(r.Out, line)
}

func (r RuntimeEnv) logger() Logger {
	return glog.Ensure(r.Logger)
}
