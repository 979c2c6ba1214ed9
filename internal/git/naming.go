package git

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// BranchPrefix is the namespace for branches created by worktree management.
const BranchPrefix = "worktree-"

// MaxTaskIDLength bounds task identifiers so derived branch and window
// names stay within tmux and git limits.
const MaxTaskIDLength = 64

// ErrInvalidTaskID indicates a task identifier failed validation.
var ErrInvalidTaskID = errors.New("invalid task id")

// taskIDPattern keeps task ids basename-safe: they become lock file names,
// worktree directory names and branch names verbatim.
var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateTaskID validates a task identifier before it is used to derive
// file, branch or window names.
func ValidateTaskID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidTaskID)
	}
	if len(id) > MaxTaskIDLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidTaskID, MaxTaskIDLength)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidTaskID)
	}
	if !taskIDPattern.MatchString(id) {
		return fmt.Errorf("%w: allowed characters are a-z, A-Z, 0-9, '.', '_', '-'", ErrInvalidTaskID)
	}
	return nil
}

// BranchName returns the branch a task's worktree is bound to.
func BranchName(taskID string) string {
	return BranchPrefix + taskID
}

// TaskIDFromBranch extracts the task id from a managed branch name.
// Returns false for branches outside the worktree namespace.
func TaskIDFromBranch(branch string) (string, bool) {
	if !strings.HasPrefix(branch, BranchPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(branch, BranchPrefix)
	return id, id != ""
}
