package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Mode selects the handler style used when constructing a logger.
type Mode int

const (
	// ModeText renders records as terse single-line text for terminals.
	ModeText Mode = iota
	// ModeJSON renders records as JSON.
	ModeJSON
)

// New constructs a logger targeting w using the requested mode.
// A nil level defaults to slog.LevelInfo.
func New(mode Mode, w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		panic("logging: writer must not be nil")
	}
	if level == nil {
		level = slog.LevelInfo
	}
	if mode == ModeJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&textHandler{writer: w, level: level, mu: &sync.Mutex{}})
}

// NewText constructs a logger that emits human-readable records for CLI use.
func NewText(w io.Writer, level slog.Leveler) *slog.Logger {
	return New(ModeText, w, level)
}

// NewJSON constructs a logger that emits structured JSON records.
func NewJSON(w io.Writer, level slog.Leveler) *slog.Logger {
	return New(ModeJSON, w, level)
}

// Ensure returns the provided logger or the process default if nil.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}

// textHandler writes "LEVEL <time> | msg key=value ..." lines. Groups are
// flattened into dotted key prefixes.
type textHandler struct {
	writer io.Writer
	level  slog.Leveler

	// mu serializes writes and is shared across WithAttrs/WithGroup clones.
	mu     *sync.Mutex
	attrs  []slog.Attr
	prefix string
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.level != nil {
		min = h.level.Level()
	}
	return level >= min
}

func (h *textHandler) Handle(_ context.Context, record slog.Record) error {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(strings.ToUpper(record.Level.String()))
	b.WriteByte(' ')
	b.WriteString(ts.UTC().Format(time.RFC3339))
	b.WriteString(" | ")
	b.WriteString(record.Message)

	for _, attr := range h.attrs {
		appendAttr(&b, h.prefix, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		appendAttr(&b, h.prefix, attr)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	clone.prefix = h.prefix + name + "."
	return &clone
}

func appendAttr(b *strings.Builder, prefix string, attr slog.Attr) {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		for _, nested := range value.Group() {
			appendAttr(b, prefix+attr.Key+".", nested)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(attr.Key)
	b.WriteByte('=')
	if err, ok := value.Any().(error); ok && err != nil {
		b.WriteString(err.Error())
		return
	}
	b.WriteString(fmt.Sprint(value.Any()))
}
