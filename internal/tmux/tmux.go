// Package tmux drives the terminal multiplexer through argv-only calls.
//
// The Client carries the one process-local cache village allows itself:
// a short-TTL snapshot of the pane set per session, so a command that
// probes liveness several times does not shell out for every lock.
package tmux

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wrenhall/village/internal/run"
)

// DefaultCacheTTL bounds pane-set snapshot freshness when the caller
// does not configure one.
const DefaultCacheTTL = 5 * time.Second

// nameForbidden rejects characters that could smuggle shell syntax or
// tmux target separators into session and window names.
const nameForbidden = "$`\"';&|<>(){}[]*?!~#\\ \t\n:."

// ValidateName checks a session or window name before it reaches tmux.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("tmux name must not be empty")
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("tmux name %q must not start with a dash", name)
	}
	if strings.ContainsAny(name, nameForbidden) {
		return fmt.Errorf("tmux name %q contains forbidden characters", name)
	}
	return nil
}

type snapshot struct {
	panes PaneSet
	taken time.Time
}

// Client wraps the tmux binary.
type Client struct {
	runner run.Runner
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]snapshot
}

// Option configures a Client.
type Option func(*Client)

// WithCacheTTL overrides the pane-cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a tmux client on top of a runner.
func NewClient(runner run.Runner, opts ...Option) *Client {
	c := &Client{
		runner: runner,
		ttl:    DefaultCacheTTL,
		now:    time.Now,
		cache:  make(map[string]snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Panes returns the pane IDs currently alive in the session. Within the
// cache TTL the snapshot is reused; forceRefresh bypasses the cache. A
// missing session yields an empty set, not an error.
func (c *Client) Panes(ctx context.Context, session string, forceRefresh bool) (PaneSet, error) {
	if !forceRefresh {
		c.mu.Lock()
		snap, ok := c.cache[session]
		c.mu.Unlock()
		if ok && c.now().Sub(snap.taken) < c.ttl {
			return snap.panes.clone(), nil
		}
	}
	return c.RefreshPanes(ctx, session)
}

// RefreshPanes unconditionally re-queries the session's panes and
// refreshes the cache.
func (c *Client) RefreshPanes(ctx context.Context, session string) (PaneSet, error) {
	res, err := c.runner.Probe(ctx, "", "tmux", "list-panes", "-s", "-t", session, "-F", "#{pane_id}")
	if err != nil {
		return nil, err
	}

	panes := make(PaneSet)
	if res.ExitCode == 0 {
		for _, line := range strings.Split(res.Stdout, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				panes[line] = struct{}{}
			}
		}
	}
	// Non-zero exit means no such session (or no server): an empty set.

	c.mu.Lock()
	c.cache[session] = snapshot{panes: panes.clone(), taken: c.now()}
	c.mu.Unlock()

	return panes, nil
}

// ClearCache drops every cached snapshot.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]snapshot)
	c.mu.Unlock()
}

func (c *Client) invalidate(session string) {
	c.mu.Lock()
	delete(c.cache, session)
	c.mu.Unlock()
}

// SessionExists probes for the session without creating anything.
func (c *Client) SessionExists(ctx context.Context, session string) (bool, error) {
	res, err := c.runner.Probe(ctx, "", "tmux", "has-session", "-t", session)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// NewSession creates a detached session.
func (c *Client) NewSession(ctx context.Context, session string) error {
	if err := ValidateName(session); err != nil {
		return err
	}
	_, err := c.runner.Run(ctx, "", "tmux", "new-session", "-d", "-s", session)
	c.invalidate(session)
	return err
}

// KillSession tears the session down. Killing an absent session is a no-op.
func (c *Client) KillSession(ctx context.Context, session string) error {
	exists, err := c.SessionExists(ctx, session)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	_, err = c.runner.Run(ctx, "", "tmux", "kill-session", "-t", session)
	c.invalidate(session)
	return err
}

// NewWindow creates a detached window in the session. startDir may be
// empty. The pane cache for the session is invalidated so the next
// probe observes the new pane.
func (c *Client) NewWindow(ctx context.Context, session, name, startDir string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	args := []string{"new-window", "-d", "-t", session + ":", "-n", name}
	if startDir != "" {
		args = append(args, "-c", startDir)
	}
	_, err := c.runner.Run(ctx, "", "tmux", args...)
	c.invalidate(session)
	return err
}

// SelectWindow makes the named window the session's current one, so an
// attached operator lands on it.
func (c *Client) SelectWindow(ctx context.Context, session, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	_, err := c.runner.Run(ctx, "", "tmux", "select-window", "-t", session+":"+name)
	return err
}

// ListWindows returns the window names in the session.
func (c *Client) ListWindows(ctx context.Context, session string) ([]string, error) {
	res, err := c.runner.Probe(ctx, "", "tmux", "list-windows", "-t", session, "-F", "#{window_name}")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, nil
	}
	var names []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// SendLiteral types text into a pane exactly as given, newlines included.
func (c *Client) SendLiteral(ctx context.Context, pane, text string) error {
	_, err := c.runner.Run(ctx, "", "tmux", "send-keys", "-t", pane, "-l", text)
	return err
}

// SendEnter presses Enter in a pane.
func (c *Client) SendEnter(ctx context.Context, pane string) error {
	_, err := c.runner.Run(ctx, "", "tmux", "send-keys", "-t", pane, "Enter")
	return err
}
