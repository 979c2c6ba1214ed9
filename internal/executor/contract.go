package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wrenhall/village/internal/lock"
)

// Contract is the one-shot message a freshly started worker reads on
// stdin. It is everything the worker needs to orient itself; after this
// the orchestrator never talks to the pane again.
type Contract struct {
	TaskID    string `json:"task_id"`
	Agent     string `json:"agent"`
	Worktree  string `json:"worktree_path"`
	GitRoot   string `json:"git_root"`
	Window    string `json:"window_name"`
	ClaimedAt string `json:"claimed_at"`
}

// composeInjection builds the heredoc command that feeds the contract to
// the worker launcher's stdin. The delimiter carries a random suffix and
// is rejected if it somehow occurs in the payload, so the payload can
// never terminate the heredoc early.
func composeInjection(workerCommand string, c Contract) (string, error) {
	payload, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}

	delim := "VILLAGE_CONTRACT_" + strings.ToUpper(uuid.NewString()[:8])
	if strings.Contains(string(payload), delim) {
		return "", fmt.Errorf("heredoc delimiter %s occurs in the contract payload", delim)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <<'%s'\n", workerCommand, delim)
	b.Write(payload)
	b.WriteString("\n")
	b.WriteString(delim)
	return b.String(), nil
}

// injectContract types the heredoc into the worker's pane. Best effort:
// the caller turns any error into a warning, never a failure, because the
// lock already exists and the operator can paste the contract by hand.
func (e *Executor) injectContract(ctx context.Context, res *Result, l *lock.Lock) error {
	cmd, err := composeInjection(e.cfg.WorkerCommand, Contract{
		TaskID:    res.TaskID,
		Agent:     l.Agent,
		Worktree:  res.Worktree,
		GitRoot:   e.cfg.GitRoot,
		Window:    res.Window,
		ClaimedAt: l.ClaimedAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := e.panes.SendLiteral(ctx, res.Pane, cmd); err != nil {
		return err
	}
	return e.panes.SendEnter(ctx, res.Pane)
}
