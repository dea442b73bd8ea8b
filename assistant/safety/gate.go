// Package safety screens inbound messages before they reach generation.
package safety

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// MinUsefulLength is the trimmed rune count below which a message without a
// question mark is considered useless.
const MinUsefulLength = 5

// Verdict is the outcome of screening one message.
type Verdict int

const (
	Allow Verdict = iota
	Abusive
	Useless
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Abusive:
		return "abusive"
	case Useless:
		return "useless"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Gate holds the active compiled policy. It is safe for concurrent use and
// its policy can be swapped while in use.
type Gate struct {
	policy atomic.Pointer[compiled]
	path   string
	logger zerolog.Logger
}

// NewGate builds a gate from the policy file at path, or from the embedded
// default policy when path is empty.
func NewGate(path string, logger zerolog.Logger) (*Gate, error) {
	g := &Gate{
		path:   path,
		logger: logger.With().Str("component", "safety").Logger(),
	}

	var (
		p   Policy
		err error
	)
	if path == "" {
		p, err = DefaultPolicy()
	} else {
		p, err = LoadPolicy(path)
	}
	if err != nil {
		return nil, err
	}
	if err := g.SetPolicy(p); err != nil {
		return nil, err
	}
	return g, nil
}

// SetPolicy compiles p and makes it active. On error the current policy is kept.
func (g *Gate) SetPolicy(p Policy) error {
	c, err := compile(p)
	if err != nil {
		return err
	}
	g.policy.Store(c)
	return nil
}

// Reload re-reads the policy file.
func (g *Gate) Reload() error {
	if g.path == "" {
		return nil
	}
	p, err := LoadPolicy(g.path)
	if err != nil {
		return err
	}
	return g.SetPolicy(p)
}

// IsAbusive reports whether text matches any block pattern, ignoring case.
func (g *Gate) IsAbusive(text string) bool {
	return g.policy.Load().abusive(text)
}

// IsTooShortOrUseless reports whether text carries too little to answer.
// Greetings are never useless; otherwise text shorter than MinUsefulLength
// runes after trimming is useless unless it contains a question mark.
func (g *Gate) IsTooShortOrUseless(text string) bool {
	trimmed := strings.TrimSpace(text)
	if _, ok := g.policy.Load().greetings[strings.ToLower(trimmed)]; ok {
		return false
	}
	return utf8.RuneCountInString(trimmed) < MinUsefulLength && !strings.Contains(trimmed, "?")
}

// Verdict runs both checks, abuse first.
func (g *Gate) Verdict(text string) Verdict {
	switch {
	case g.IsAbusive(text):
		return Abusive
	case g.IsTooShortOrUseless(text):
		return Useless
	default:
		return Allow
	}
}

// reloadDebounce collapses the burst of events editors emit on save.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the policy whenever its file changes, until ctx is done.
// Gates built from the embedded policy have nothing to watch and return nil
// immediately.
func (g *Gate) Watch(ctx context.Context) error {
	if g.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic rename-over saves are seen.
	dir := filepath.Dir(g.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(g.path)

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			g.logger.Warn().Err(err).Msg("policy watcher error")

		case <-timer.C:
			if err := g.Reload(); err != nil {
				g.logger.Error().Err(err).Str("path", g.path).Msg("policy reload failed, keeping previous policy")
				continue
			}
			g.logger.Info().Str("path", g.path).Msg("policy reloaded")
		}
	}
}
