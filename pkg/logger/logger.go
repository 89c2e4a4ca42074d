package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component identifiers for color-coded logging
type Component string

const (
	ComponentProfileService Component = "PROFILE-SERVICE"
	ComponentDataService    Component = "DATA-SERVICE"
	ComponentClient         Component = "DEMO-CLIENT"
	ComponentExchange       Component = "TOKEN-EXCHANGE"
	ComponentCache          Component = "EXCHANGE-CACHE"
	ComponentDownstream     Component = "DOWNSTREAM"
	ComponentPolicy         Component = "POLICY"
	ComponentMTLS           Component = "mTLS"
)

// ANSI color codes
const (
	colorReset   = "\033[0m"
	colorGreen   = "\033[32m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorYellow  = "\033[33m"
	colorCyan    = "\033[36m"
	colorWhite   = "\033[37m"
	colorOrange  = "\033[38;5;208m"
)

// componentColors maps components to their display colors
var componentColors = map[Component]string{
	ComponentProfileService: colorBlue,
	ComponentDataService:    colorMagenta,
	ComponentClient:         colorWhite,
	ComponentExchange:       colorOrange,
	ComponentCache:          colorCyan,
	ComponentDownstream:     colorYellow,
	ComponentPolicy:         colorGreen,
	ComponentMTLS:           colorYellow,
}

// Direction indicates the flow of a request
type Direction string

const (
	DirectionOutgoing Direction = "->"
	DirectionIncoming Direction = "<-"
	DirectionNone     Direction = ""
)

// ColorHandler is a custom slog handler that adds color-coded component output
type ColorHandler struct {
	out       io.Writer
	mu        *sync.Mutex
	level     slog.Leveler
	attrs     []slog.Attr
	component Component
	useColors bool
}

// NewColorHandler creates a new color-coded handler
func NewColorHandler(out io.Writer, component Component, useColors bool, level slog.Leveler) *ColorHandler {
	if level == nil {
		level = slog.LevelDebug
	}
	return &ColorHandler{
		out:       out,
		mu:        &sync.Mutex{},
		level:     level,
		component: component,
		useColors: useColors,
	}
}

// Enabled reports whether the handler emits records at the given level
func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle processes a log record with color-coded output
func (h *ColorHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	color := componentColors[h.component]
	reset := colorReset
	if !h.useColors {
		color = ""
		reset = ""
	}

	// Format: emoji [COMPONENT] message attrs...
	fmt.Fprintf(h.out, "%s%s [%s]%s %s", color, getLevelEmoji(r.Level), h.component, reset, r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(h.out, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.out, " %s=%v", a.Key, a.Value)
		return true
	})
	fmt.Fprintln(h.out)

	return nil
}

// WithAttrs returns a new handler with the given attributes
func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup is a no-op; the component prefix already scopes every line
func (h *ColorHandler) WithGroup(_ string) slog.Handler {
	return h
}

func getLevelEmoji(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\U0001F534" // Red circle
	case level >= slog.LevelWarn:
		return "\U0001F7E1" // Yellow circle
	case level >= slog.LevelInfo:
		return "\U0001F535" // Blue circle
	default:
		return "\U0001F7E3" // Purple circle
	}
}

// ParseLevel maps a config log level to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Logger wraps slog.Logger with component-specific functionality
type Logger struct {
	*slog.Logger
	component Component
}

// New creates a new component-specific logger
func New(component Component) *Logger {
	return NewWithLevel(component, slog.LevelDebug)
}

// NewWithLevel creates a component logger writing to stdout at the given level
func NewWithLevel(component Component, level slog.Leveler) *Logger {
	useColors := os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
	return &Logger{
		Logger:    slog.New(NewColorHandler(os.Stdout, component, useColors, level)),
		component: component,
	}
}

// NewWithWriter creates a logger with a custom writer
func NewWithWriter(component Component, w io.Writer, useColors bool) *Logger {
	return &Logger{
		Logger:    slog.New(NewColorHandler(w, component, useColors, slog.LevelDebug)),
		component: component,
	}
}

// Discard returns a logger that drops everything; used by tests
func Discard(component Component) *Logger {
	return NewWithWriter(component, io.Discard, false)
}

// Flow logs a directional message (incoming or outgoing)
func (l *Logger) Flow(dir Direction, msg string, args ...any) {
	prefix := ""
	if dir != DirectionNone {
		prefix = string(dir) + " "
	}
	l.Info(prefix+msg, args...)
}

// Success logs a success message with green color
func (l *Logger) Success(msg string, args ...any) {
	l.Info("\u2705 "+msg, args...)
}

// Deny logs a denial message with red color
func (l *Logger) Deny(msg string, args ...any) {
	l.Error("\u274C "+msg, args...)
}

// Allow logs an allow decision
func (l *Logger) Allow(msg string, args ...any) {
	l.Info("\u2705 ALLOW: "+msg, args...)
}

// Section logs a section header
func (l *Logger) Section(title string) {
	l.Info("")
	l.Info("\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550")
	l.Info(" " + title)
	l.Info("\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550")
	l.Info("")
}

// SVID logs SVID-related info
func (l *Logger) SVID(spiffeID string, msg string) {
	l.Info("\U0001F4DC [SVID] "+msg, "spiffe_id", spiffeID)
}

// Policy logs policy evaluation info
func (l *Logger) Policy(msg string, args ...any) {
	l.Info("\U0001F4CB "+msg, args...)
}

// Exchange logs token exchange activity. Tokens themselves are never logged.
func (l *Logger) Exchange(audience string, msg string, args ...any) {
	l.Info("\U0001F501 ["+audience+"] "+msg, args...)
}

// Cache logs exchange cache activity
func (l *Logger) Cache(msg string, args ...any) {
	l.Debug("\U0001F5C3 "+msg, args...)
}
