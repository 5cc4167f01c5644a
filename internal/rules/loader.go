package rules

import (
	_ "embed"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/bowerhall/nudge/internal/logger"
)

//go:embed default_rules.yaml
var defaultRules []byte

// Default returns the built-in rule set
func Default() *RuleSet {
	rs, err := Parse(defaultRules, "builtin", time.Now())
	if err != nil {
		// the embedded file is part of the build
		panic(err)
	}
	return rs
}

// Loader returns rule snapshots, re-reading the file when its modification
// time changes. A file that fails to parse leaves the previous snapshot in place.
type Loader struct {
	path     string
	now      func() time.Time
	stat     func(string) (fs.FileInfo, error)
	readFile func(string) ([]byte, error)

	mu      sync.Mutex
	current *RuleSet
	modTime time.Time
}

type Option func(*Loader)

// WithClock injects the clock stamped on loaded snapshots
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// WithStat injects the function used to read the file modification time
func WithStat(stat func(string) (fs.FileInfo, error)) Option {
	return func(l *Loader) { l.stat = stat }
}

// WithReadFile injects the function used to read the file
func WithReadFile(read func(string) ([]byte, error)) Option {
	return func(l *Loader) { l.readFile = read }
}

func NewLoader(path string, opts ...Option) *Loader {
	l := &Loader{
		path:     path,
		now:      time.Now,
		stat:     os.Stat,
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Current returns the latest snapshot, reloading when the file changed
func (l *Loader) Current() *RuleSet {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		return l.fallback()
	}

	info, err := l.stat(l.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("rule file stat failed", "path", l.path, "error", err)
		}
		return l.fallback()
	}

	if l.current != nil && info.ModTime().Equal(l.modTime) {
		return l.current
	}

	data, err := l.readFile(l.path)
	if err != nil {
		logger.Error("rule file read failed", "path", l.path, "error", err)
		return l.fallback()
	}

	rs, err := Parse(data, l.path, l.now())
	if err != nil {
		logger.Error("rule file rejected, keeping previous rules", "path", l.path, "error", err)
		// remember the mtime so a broken file is not re-parsed on every call
		l.modTime = info.ModTime()
		return l.fallback()
	}

	l.current = rs
	l.modTime = info.ModTime()
	logger.Info("rules loaded", "path", l.path, "events", len(rs.Events), "problems", len(rs.Problems))

	return rs
}

// must hold lock
func (l *Loader) fallback() *RuleSet {
	if l.current == nil {
		l.current = Default()
	}
	return l.current
}
