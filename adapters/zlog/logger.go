// Package zlog backs the go-logger interfaces with zerolog.
package zlog

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/rs/zerolog"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

type Logger struct {
	zl zerolog.Logger
}

// New builds a logger at level. The console format is meant for local runs;
// everything else emits JSON lines.
func New(format, level string, writers ...io.Writer) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	var output io.Writer = os.Stdout
	if len(writers) > 0 {
		output = io.MultiWriter(writers...)
	}
	if strings.EqualFold(strings.TrimSpace(format), FormatConsole) {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(output).With().Timestamp().Logger().Level(lvl)
	return &Logger{zl: zl}, nil
}

func Wrap(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("zlog: invalid level %q: %w", level, err)
	}
	return lvl, nil
}

func (l *Logger) Trace(msg string, args ...any) { l.emit(zerolog.TraceLevel, msg, args) }
func (l *Logger) Debug(msg string, args ...any) { l.emit(zerolog.DebugLevel, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.emit(zerolog.InfoLevel, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.emit(zerolog.WarnLevel, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.emit(zerolog.ErrorLevel, msg, args) }

// Fatal logs at fatal level without exiting the process.
func (l *Logger) Fatal(msg string, args ...any) { l.emit(zerolog.FatalLevel, msg, args) }

func (l *Logger) WithContext(context.Context) glog.Logger {
	return l
}

func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	if l == nil || len(fields) == 0 {
		return l
	}
	return &Logger{zl: l.zl.With().Fields(fields).Logger()}
}

// Named returns a child logger tagged with the logger name.
func (l *Logger) Named(name string) *Logger {
	if l == nil {
		return nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &Logger{zl: l.zl.With().Str("logger", name).Logger()}
}

func (l *Logger) emit(level zerolog.Level, msg string, args []any) {
	if l == nil {
		return
	}
	event := l.zl.WithLevel(level)
	if event == nil {
		return
	}
	if fields := pairs(args); len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg(msg)
}

// pairs folds key/value arguments into a field map. A trailing key without a
// value is kept under "extra".
func pairs(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			out["extra"] = args[i]
			break
		}
		key := fmt.Sprint(args[i])
		if err, ok := args[i+1].(error); ok {
			out[key] = err.Error()
			continue
		}
		out[key] = args[i+1]
	}
	return out
}

// Provider hands out named children of one root logger.
type Provider struct {
	root *Logger
}

func NewProvider(root *Logger) *Provider {
	return &Provider{root: root}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	if p == nil || p.root == nil {
		return glog.Nop()
	}
	return p.root.Named(name)
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.FieldsLogger   = (*Logger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
