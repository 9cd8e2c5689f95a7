package remediation

import (
	"fmt"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
)

// Request describes one remediation change: a single entity, a single
// manifest file, a single branch and a single review request.
type Request struct {
	RepoPath      string       `json:"repo_path"`
	FilePath      string       `json:"file_path"` // relative to RepoPath
	EntityName    string       `json:"entity_name"`
	Service       string       `json:"service"`
	Stack         string       `json:"stack"`
	Items         []drift.Item `json:"items"`
	Branch        string       `json:"branch"`
	BaseBranch    string       `json:"base_branch"`
	CommitMessage string       `json:"commit_message"`
	Title         string       `json:"title"`
	Body          string       `json:"body"`
	Labels        []string     `json:"labels,omitempty"`
}

// Validate checks that the request is complete.
func (r *Request) Validate() error {
	switch {
	case r.RepoPath == "":
		return fmt.Errorf("repository path is required")
	case r.FilePath == "":
		return fmt.Errorf("file path is required")
	case r.Service == "":
		return fmt.Errorf("service is required")
	case len(r.Items) == 0:
		return fmt.Errorf("no drift items to remediate for %s", r.EntityName)
	case r.Branch == "":
		return fmt.Errorf("branch is required")
	case r.BaseBranch == "":
		return fmt.Errorf("base branch is required")
	}
	return nil
}

// State is a step of the publish lifecycle
type State string

// Publish lifecycle states, in order
const (
	StateIdle          State = "idle"
	StateBranchCreated State = "branch_created"
	StateFileUpdated   State = "file_updated"
	StateCommitted     State = "committed"
	StatePushed        State = "pushed"
	StateRequestOpened State = "request_opened"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

var stateOrder = map[State]int{
	StateIdle:          0,
	StateBranchCreated: 1,
	StateFileUpdated:   2,
	StateCommitted:     3,
	StatePushed:        4,
	StateRequestOpened: 5,
	StateDone:          6,
}

// Reached reports whether s is at or past other in the lifecycle.
func (s State) Reached(other State) bool {
	a, okA := stateOrder[s]
	b, okB := stateOrder[other]
	return okA && okB && a >= b
}

// Outcome is the result of a publish attempt
type Outcome struct {
	EntityName     string   `json:"entity_name"`
	State          State    `json:"state"`
	Branch         string   `json:"branch"`
	FilePath       string   `json:"file_path"`
	PullRequestURL string   `json:"pull_request_url,omitempty"`
	PullRequestNum int      `json:"pull_request_number,omitempty"`
	DryRun         bool     `json:"dry_run"`
	Diff           string   `json:"diff,omitempty"`
	// Title, CommitMessage and Body are filled in dry-run mode only.
	Title          string   `json:"title,omitempty"`
	CommitMessage  string   `json:"commit_message,omitempty"`
	Body           string   `json:"body,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	Error          string   `json:"error,omitempty"`
	// FailedAt is the last state reached before the failure, if any.
	FailedAt State `json:"failed_at,omitempty"`
}

// DefaultLabels are applied to every review request.
var DefaultLabels = []string{"drift-remediation", "automated"}
