package tmux

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenhall/village/internal/run/runtest"
)

func TestPanes_CachesWithinTTL(t *testing.T) {
	fake := runtest.New()
	fake.Stub("tmux list-panes -s -t village -F #{pane_id}", runtest.Response{Stdout: "%3\n%5\n"})

	now := time.Now()
	c := NewClient(fake, WithClock(func() time.Time { return now }))

	first, err := c.Panes(context.Background(), "village", false)
	require.NoError(t, err)
	assert.True(t, first.Has("%3"))
	assert.True(t, first.Has("%5"))

	// Second call within the TTL must not shell out again.
	second, err := c.Panes(context.Background(), "village", false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, fake.Calls(), 1)
}

func TestPanes_RefreshesAfterTTL(t *testing.T) {
	fake := runtest.New()
	fake.Stub("tmux list-panes -s -t village -F #{pane_id}", runtest.Response{Stdout: "%3\n"})
	fake.Stub("tmux list-panes -s -t village -F #{pane_id}", runtest.Response{Stdout: "%3\n%7\n"})

	now := time.Now()
	c := NewClient(fake, WithClock(func() time.Time { return now }), WithCacheTTL(5*time.Second))

	first, err := c.Panes(context.Background(), "village", false)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	now = now.Add(6 * time.Second)

	second, err := c.Panes(context.Background(), "village", false)
	require.NoError(t, err)
	assert.Len(t, second, 2)
	assert.Len(t, fake.Calls(), 2)
}

func TestPanes_ForceRefreshBypassesCache(t *testing.T) {
	fake := runtest.New()
	fake.Stub("tmux list-panes -s -t village -F #{pane_id}", runtest.Response{Stdout: "%3\n"})
	fake.Stub("tmux list-panes -s -t village -F #{pane_id}", runtest.Response{Stdout: "%3\n%9\n"})

	c := NewClient(fake)

	_, err := c.Panes(context.Background(), "village", false)
	require.NoError(t, err)

	refreshed, err := c.Panes(context.Background(), "village", true)
	require.NoError(t, err)
	assert.True(t, refreshed.Has("%9"))
	assert.Len(t, fake.Calls(), 2)
}

func TestPanes_MissingSessionIsEmptyNotError(t *testing.T) {
	fake := runtest.New()
	fake.Stub("tmux list-panes -s -t ghost -F #{pane_id}", runtest.Response{
		ExitCode: 1,
		Stderr:   "can't find session: ghost",
	})

	c := NewClient(fake)

	panes, err := c.Panes(context.Background(), "ghost", false)
	require.NoError(t, err)
	assert.Empty(t, panes)
}

func TestClearCache(t *testing.T) {
	fake := runtest.New()
	fake.StubPrefix("tmux list-panes", runtest.Response{Stdout: "%1\n"})

	c := NewClient(fake)

	_, err := c.Panes(context.Background(), "village", false)
	require.NoError(t, err)

	c.ClearCache()

	_, err = c.Panes(context.Background(), "village", false)
	require.NoError(t, err)
	assert.Len(t, fake.Calls(), 2)
}

func TestSessionExists(t *testing.T) {
	fake := runtest.New()
	fake.Stub("tmux has-session -t village", runtest.Response{ExitCode: 0})
	fake.Stub("tmux has-session -t ghost", runtest.Response{ExitCode: 1, Stderr: "can't find session"})

	c := NewClient(fake)

	ok, err := c.SessionExists(context.Background(), "village")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SessionExists(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewWindow_InvalidatesPaneCache(t *testing.T) {
	fake := runtest.New()
	fake.Stub("tmux list-panes -s -t village -F #{pane_id}", runtest.Response{Stdout: "%1\n"})
	fake.Stub("tmux new-window -d -t village: -n worker-1-bd1 -c /work/bd1", runtest.Response{})
	fake.Stub("tmux list-panes -s -t village -F #{pane_id}", runtest.Response{Stdout: "%1\n%2\n"})

	c := NewClient(fake)

	before, err := c.Panes(context.Background(), "village", false)
	require.NoError(t, err)
	require.Len(t, before, 1)

	require.NoError(t, c.NewWindow(context.Background(), "village", "worker-1-bd1", "/work/bd1"))

	after, err := c.Panes(context.Background(), "village", false)
	require.NoError(t, err)
	assert.Len(t, after, 2, "window creation must drop the cached snapshot")
}

func TestNewWindow_RejectsBadNames(t *testing.T) {
	c := NewClient(runtest.New())

	err := c.NewWindow(context.Background(), "village", "bad;name", "")
	require.Error(t, err)

	err = c.NewWindow(context.Background(), "village", "", "")
	require.Error(t, err)
}

func TestKillSession_AbsentIsNoOp(t *testing.T) {
	fake := runtest.New()
	fake.Stub("tmux has-session -t ghost", runtest.Response{ExitCode: 1})

	c := NewClient(fake)

	require.NoError(t, c.KillSession(context.Background(), "ghost"))
	assert.Len(t, fake.Calls(), 1, "kill-session must not run for an absent session")
}

func TestSendLiteralAndEnter(t *testing.T) {
	fake := runtest.New()
	fake.StubPrefix("tmux send-keys", runtest.Response{})

	c := NewClient(fake)

	require.NoError(t, c.SendLiteral(context.Background(), "%12", "echo hi\nsecond line"))
	require.NoError(t, c.SendEnter(context.Background(), "%12"))

	lines := fake.CommandLines()
	require.Len(t, lines, 2)
	assert.Equal(t, "tmux send-keys -t %12 -l echo hi\nsecond line", lines[0])
	assert.Equal(t, "tmux send-keys -t %12 Enter", lines[1])
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"plain", "village", true},
		{"with dashes", "worker-2-bd-a3f8", true},
		{"empty", "", false},
		{"leading dash", "-village", false},
		{"semicolon", "a;b", false},
		{"dollar", "a$b", false},
		{"space", "a b", false},
		{"colon is a tmux separator", "a:b", false},
		{"dot is a tmux separator", "a.b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.in)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestPaneSet(t *testing.T) {
	old := NewPaneSet("%1", "%2")
	cur := NewPaneSet("%1", "%2", "%10", "%9")

	added := cur.Added(old)
	assert.Len(t, added, 2)

	newest, ok := added.Newest()
	require.True(t, ok)
	assert.Equal(t, "%10", newest, "numeric compare, not lexicographic")

	assert.Equal(t, []string{"%1", "%2", "%9", "%10"}, cur.Sorted())

	_, ok = NewPaneSet().Newest()
	assert.False(t, ok)
}
