// Package debug writes trace lines for the converter's subsystems to a log
// file when enabled. Each line carries the time since logging started, so DAC
// flush and clock timing can be read straight off the log.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Category names the subsystem a line comes from.
type Category string

const (
	MIDI  Category = "midi"
	NRPN  Category = "nrpn"
	DAC   Category = "dac"
	Patch Category = "patch"
)

// Categories lists every known category.
var Categories = []Category{MIDI, NRPN, DAC, Patch}

type logger struct {
	w      io.Writer
	closer io.Closer
	start  time.Time
	only   map[Category]bool // nil logs everything
	counts map[string]int
}

var (
	mu  sync.Mutex
	out *logger
)

// ParseCategories converts names such as "midi,dac" into categories.
func ParseCategories(names []string) ([]Category, error) {
	var cats []Category
	for _, name := range names {
		c := Category(strings.ToLower(strings.TrimSpace(name)))
		known := false
		for _, k := range Categories {
			if c == k {
				known = true
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown debug category %q", name)
		}
		cats = append(cats, c)
	}
	return cats, nil
}

// Enable starts logging to path, truncating it. With categories given, only
// those are written.
func Enable(path string, only ...Category) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open debug log: %w", err)
	}
	start(f, f, only)
	return nil
}

// EnableWriter logs to w instead of a file.
func EnableWriter(w io.Writer, only ...Category) {
	start(w, nil, only)
}

func start(w io.Writer, c io.Closer, only []Category) {
	l := &logger{w: w, closer: c, start: time.Now(), counts: make(map[string]int)}
	if len(only) > 0 {
		l.only = make(map[Category]bool, len(only))
		for _, cat := range only {
			l.only[cat] = true
		}
	}

	mu.Lock()
	prev := out
	out = l
	mu.Unlock()
	if prev != nil && prev.closer != nil {
		prev.closer.Close()
	}
	fmt.Fprintf(w, "midicv debug log, %s\n", l.start.Format(time.RFC3339))
}

// Disable stops logging and closes the file.
func Disable() {
	mu.Lock()
	l := out
	out = nil
	mu.Unlock()
	if l != nil && l.closer != nil {
		l.closer.Close()
	}
}

// Enabled reports whether logging is on.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return out != nil
}

// Log writes one line under a category.
func Log(c Category, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if out == nil || (out.only != nil && !out.only[c]) {
		return
	}
	out.write(c, fmt.Sprintf(format, args...))
}

// LogEvery writes only every n-th call with the same category and format,
// for clock ticks and DAC frames.
func LogEvery(n int, c Category, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if out == nil || (out.only != nil && !out.only[c]) {
		return
	}
	key := string(c) + format
	out.counts[key]++
	if count := out.counts[key]; count%n == 0 {
		out.write(c, fmt.Sprintf(format, args...)+fmt.Sprintf(" (every %d, #%d)", n, count))
	}
}

func (l *logger) write(c Category, msg string) {
	elapsed := time.Since(l.start).Seconds()
	if _, err := fmt.Fprintf(l.w, "%10.6f %-5s %s\n", elapsed, c, msg); err != nil {
		return
	}
	if f, ok := l.w.(*os.File); ok {
		f.Sync() // survive a crash
	}
}
