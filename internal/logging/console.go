package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
	colorFaint  = "\x1b[2m"
)

// leadingKeys are written first, in this order. Remaining fields keep their
// logging order.
var leadingKeys = []string{
	FieldEventType,
	FieldErrorCode,
	"error",
	FieldErrorHint,
	FieldImpact,
	"status",
	"operation_id",
	"document_type",
	"confidence",
	"page_range",
	"attempt",
	"delay",
	"duration",
}

// maxInfoValue hides long values above debug level; errors are cut instead.
const maxInfoValue = 160

// consoleHandler writes one line per record:
//
//	2026-01-02 15:04:05.000 INFO  [poller] invoice.pdf#2/extraction: stage completed operation_id=op-1 duration=1.2s
//
// Debug level adds the call site and every field.
type consoleHandler struct {
	out    *lockedWriter
	level  slog.Leveler
	color  bool
	source bool
	attrs  []field
	prefix string
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

type field struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, level slog.Leveler, source, color bool) *consoleHandler {
	return &consoleHandler{out: &lockedWriter{w: w}, level: level, source: source, color: color}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = slices.Clone(h.attrs)
	for _, attr := range attrs {
		next.attrs = appendField(next.attrs, h.prefix, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	fields := slices.Clone(h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendField(fields, h.prefix, attr)
		return true
	})
	fields = lastWins(fields)

	var b strings.Builder
	when := record.Time
	if when.IsZero() {
		when = time.Now()
	}
	h.paint(&b, colorFaint, when.Local().Format(consoleTimeLayout))
	b.WriteByte(' ')
	h.paint(&b, levelColor(record.Level), levelName(record.Level))

	subject, rest := splitSubject(fields)
	if subject.component != "" {
		b.WriteString(" [")
		b.WriteString(subject.component)
		b.WriteByte(']')
	}
	if s := subject.String(); s != "" {
		b.WriteByte(' ')
		b.WriteString(s)
		b.WriteByte(':')
	}
	b.WriteByte(' ')
	if msg := strings.TrimSpace(record.Message); msg != "" {
		b.WriteString(msg)
	} else {
		b.WriteString("(no message)")
	}

	verbose := record.Level < slog.LevelInfo
	hidden := 0
	for _, f := range order(rest) {
		if !verbose && debugOnly(f.key) {
			hidden++
			continue
		}
		value := render(f.key, f.value)
		if !verbose && len(value) > maxInfoValue {
			if f.key != "error" {
				hidden++
				continue
			}
			value = value[:maxInfoValue] + "..."
		}
		b.WriteByte(' ')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(value)
	}
	if hidden > 0 {
		b.WriteString(" (+")
		b.WriteString(strconv.Itoa(hidden))
		b.WriteString(" hidden)")
	}
	if h.source && record.PC != 0 {
		if src := record.Source(); src != nil && src.File != "" {
			h.paint(&b, colorFaint, " @"+filepath.Base(src.File)+":"+strconv.Itoa(src.Line))
		}
	}
	b.WriteByte('\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := io.WriteString(h.out.w, b.String())
	return err
}

func (h *consoleHandler) paint(b *strings.Builder, color, text string) {
	if !h.color {
		b.WriteString(text)
		return
	}
	b.WriteString(color)
	b.WriteString(text)
	b.WriteString(colorReset)
}

// subject is what a line is about: "invoice.pdf#2/extraction".
type subject struct {
	component string
	document  string
	unit      string
	stage     string
}

func (s subject) String() string {
	out := s.document
	if out != "" && s.unit != "" {
		out += "#" + s.unit
	}
	if s.stage != "" {
		if out != "" {
			out += "/"
		}
		out += s.stage
	}
	return out
}

func splitSubject(fields []field) (subject, []field) {
	var s subject
	rest := fields[:0:0]
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			s.component = plain(f.value)
		case FieldDocument:
			s.document = plain(f.value)
		case FieldUnit:
			s.unit = plain(f.value)
		case FieldStage:
			s.stage = plain(f.value)
		default:
			rest = append(rest, f)
		}
	}
	return s, rest
}

func order(fields []field) []field {
	rank := func(key string) int {
		if i := slices.Index(leadingKeys, key); i >= 0 {
			return i
		}
		return len(leadingKeys)
	}
	sorted := slices.Clone(fields)
	slices.SortStableFunc(sorted, func(a, b field) int { return rank(a.key) - rank(b.key) })
	return sorted
}

func debugOnly(key string) bool {
	switch key {
	case FieldCorrelationID, "url", "path", "body":
		return true
	}
	return strings.HasSuffix(key, "_url") || strings.HasSuffix(key, "_path")
}

func appendField(dst []field, prefix string, attr slog.Attr) []field {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	if attr.Value.Kind() == slog.KindGroup {
		inner := prefix
		if attr.Key != "" {
			inner += attr.Key + "."
		}
		for _, member := range attr.Value.Group() {
			dst = appendField(dst, inner, member)
		}
		return dst
	}
	return append(dst, field{key: prefix + attr.Key, value: attr.Value})
}

// lastWins drops repeated keys, keeping the first position and the last value.
func lastWins(fields []field) []field {
	index := make(map[string]int, len(fields))
	out := fields[:0:0]
	for _, f := range fields {
		if i, seen := index[f.key]; seen {
			out[i].value = f.value
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN "
	case level >= slog.LevelInfo:
		return "INFO "
	default:
		return "DEBUG"
	}
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorCyan
	default:
		return colorFaint
	}
}
