// Package logger wires zap into the field conventions used across ads:
// components, agents, users, tasks and bridge sessions.
package logger

import (
	"fmt"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the logging configuration.
type Config struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console; empty = auto-detect
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// Logger is a zap.Logger plus the ads correlation helpers. Embedding keeps
// the full zap API (Debug/Info/Warn/Error/Fatal, Sync) available directly.
type Logger struct {
	*zap.Logger
}

var defaultLogger = sync.OnceValue(func() *Logger {
	l, err := New(Config{Level: "info"})
	if err != nil {
		return &Logger{zap.NewNop()}
	}
	return l
})

// Default returns the shared fallback logger used where no configured one
// has been injected (mostly tests).
func Default() *Logger {
	return defaultLogger()
}

// New builds a Logger from the configuration. With an empty Format, console
// output is chosen when stderr is a terminal and JSON otherwise, so service
// deployments get machine-readable logs without any configuration.
func New(cfg Config) (*Logger, error) {
	format := cfg.Format
	if format == "" || format == "text" {
		format = "json"
		if cfg.Format == "text" || isatty.IsTerminal(os.Stderr.Fd()) {
			format = "console"
		}
	}

	var zc zap.Config
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	output := cfg.OutputPath
	if output == "" {
		output = "stdout"
	}
	zc.OutputPaths = []string{output}
	zc.ErrorOutputPaths = []string{"stderr"}

	zl, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{zl}, nil
}

// WithFields returns a child Logger with the given fields attached.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{l.With(fields...)}
}

// WithComponent scopes the logger to one component of the core.
func (l *Logger) WithComponent(name string) *Logger {
	return l.WithFields(zap.String("component", name))
}

// WithAgentID attaches the agent identity an adapter or delegate call is
// running under.
func (l *Logger) WithAgentID(agentID string) *Logger {
	return l.WithFields(zap.String("agent_id", agentID))
}

// WithUserID attaches the session owner.
func (l *Logger) WithUserID(userID string) *Logger {
	return l.WithFields(zap.String("user_id", userID))
}

// WithTask carries a task's identity and revision through the coordinator's
// delegate, rework and verification paths, so one task chain can be followed
// across rounds.
func (l *Logger) WithTask(taskID string, revision int) *Logger {
	return l.WithFields(zap.String("task_id", taskID), zap.Int("revision", revision))
}

// WithChat carries the bridge's session correlation: every log line of a
// socket's work can be joined back to its ads-session/ads-chat pair.
func (l *Logger) WithChat(sessionID, chatID string) *Logger {
	return l.WithFields(zap.String("session_id", sessionID), zap.String("chat_id", chatID))
}
