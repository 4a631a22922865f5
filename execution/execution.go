// Package execution defines the persistent record types for workflow runs:
// the Execution aggregate, per-node NodeExecution records, resume tokens for
// paused human-in-the-loop nodes, and the error kinds shared by node
// executors and the scheduler. The types here are plain data so persistence
// backends can serialize them without engine involvement.
package execution

import (
	"sort"
	"time"
)

type (
	// Status is the lifecycle state of an execution.
	Status string

	// Mode records what started the execution.
	Mode string

	// NodeStatus is the lifecycle state of a single node execution attempt.
	NodeStatus string

	// Channel identifies how a resume event reaches a paused HIL node.
	Channel string

	// Execution is one run of a workflow. NodeExecutions holds every attempt
	// keyed by attempt id; Sequence orders completed attempts (see the
	// ordering rules on SortSequence).
	Execution struct {
		ID         string `json:"id"`
		WorkflowID string `json:"workflow_id"`
		Status     Status `json:"status"`
		Mode       Mode   `json:"mode"`
		// TriggeredBy identifies the user or system that started the run.
		TriggeredBy string     `json:"triggered_by,omitempty"`
		StartTime   *time.Time `json:"start_time,omitempty"`
		EndTime     *time.Time `json:"end_time,omitempty"`

		// NodeExecutions maps attempt id to its record. Multiple attempts of
		// a retried node share NodeID but have distinct attempt ids.
		NodeExecutions map[string]*NodeExecution `json:"node_executions"`

		// PendingInputs accumulates routed values per node until the node
		// runs: node id -> input key -> value.
		PendingInputs map[string]map[string]any `json:"pending_inputs,omitempty"`

		// Sequence lists completed attempt ids ordered by
		// (ended_at, started_at, node_id) so replays are comparable.
		Sequence []string `json:"execution_sequence"`

		// ResumeTokens maps paused HIL node id to its outstanding token id.
		ResumeTokens map[string]string `json:"resume_tokens,omitempty"`

		// Error summarizes the terminal cause for failed executions. The
		// full diagnostic path lives on the individual node records.
		Error *Error `json:"error,omitempty"`

		// SettingsSnapshot freezes the workflow settings the run started
		// with, so later workflow edits do not change its interpretation.
		SettingsSnapshot map[string]any `json:"settings_snapshot,omitempty"`
	}

	// NodeExecution records one attempt of one node.
	NodeExecution struct {
		// AttemptID uniquely identifies this attempt within the execution.
		AttemptID string     `json:"attempt_id"`
		NodeID    string     `json:"node_id"`
		Attempt   int        `json:"attempt"`
		Status    NodeStatus `json:"status"`
		StartedAt *time.Time `json:"started_at,omitempty"`
		EndedAt   *time.Time `json:"ended_at,omitempty"`

		InputSnapshot  map[string]any `json:"input_snapshot,omitempty"`
		OutputSnapshot map[string]any `json:"output_snapshot,omitempty"`
		Error          *Error         `json:"error,omitempty"`

		// InputSources records which upstream node wrote each input key
		// (last writer wins), so reviewers can attribute conflicting writes.
		InputSources map[string]string `json:"input_sources,omitempty"`

		// AttachedExecutions holds the MEMORY and TOOL operations performed
		// inside an AI agent attempt. Always empty for other node types.
		AttachedExecutions []AttachedExecution `json:"attached_executions,omitempty"`
	}

	// AttachedExecution is a sub-record for one MEMORY load/store or TOOL
	// invocation inside an AI agent turn.
	AttachedExecution struct {
		NodeID    string         `json:"node_id"`
		Operation string         `json:"operation"`
		Tool      string         `json:"tool,omitempty"`
		Input     map[string]any `json:"input,omitempty"`
		Output    map[string]any `json:"output,omitempty"`
		Error     string         `json:"error,omitempty"`
		StartedAt time.Time      `json:"started_at"`
		EndedAt   time.Time      `json:"ended_at"`
	}

	// ResumeToken is the single-use credential binding an external event to
	// a paused HIL node.
	ResumeToken struct {
		Token       string         `json:"token"`
		ExecutionID string         `json:"execution_id"`
		NodeID      string         `json:"node_id"`
		Channel     Channel        `json:"channel"`
		IssuedAt    time.Time      `json:"issued_at"`
		ExpiresAt   time.Time      `json:"expires_at"`
		Correlation map[string]any `json:"correlation,omitempty"`
	}
)

// Attached execution operations.
const (
	AttachedLoad      = "load"
	AttachedStore     = "store"
	AttachedListTools = "list_tools"
	AttachedInvoke    = "invoke"
)

const (
	StatusNew      Status = "NEW"
	StatusRunning  Status = "RUNNING"
	StatusWaiting  Status = "WAITING"
	StatusSuccess  Status = "SUCCESS"
	StatusError    Status = "ERROR"
	StatusCanceled Status = "CANCELED"
	StatusPaused   Status = "PAUSED"
)

const (
	ModeManual    Mode = "MANUAL"
	ModeTrigger   Mode = "TRIGGER"
	ModeWebhook   Mode = "WEBHOOK"
	ModeRetry     Mode = "RETRY"
	ModeScheduled Mode = "SCHEDULED"
)

const (
	NodePending      NodeStatus = "PENDING"
	NodeRunning      NodeStatus = "RUNNING"
	NodeWaitingHuman NodeStatus = "WAITING_HUMAN"
	NodeSuccess      NodeStatus = "SUCCESS"
	NodeError        NodeStatus = "ERROR"
	NodeCanceled     NodeStatus = "CANCELED"
	NodeSkipped      NodeStatus = "SKIPPED"
)

const (
	ChannelSlack   Channel = "SLACK"
	ChannelGmail   Channel = "GMAIL"
	ChannelOutlook Channel = "OUTLOOK"
	ChannelManual  Channel = "MANUAL"
)

// Terminal reports whether the execution reached a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCanceled
}

// Terminal reports whether the node attempt reached a final state.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeSuccess, NodeError, NodeCanceled, NodeSkipped:
		return true
	}
	return false
}

// Latest returns the most recent attempt for the given node id, if any.
func (e *Execution) Latest(nodeID string) *NodeExecution {
	var best *NodeExecution
	for _, ne := range e.NodeExecutions {
		if ne.NodeID != nodeID {
			continue
		}
		if best == nil || ne.Attempt > best.Attempt {
			best = ne
		}
	}
	return best
}

// SortSequence orders attempt ids by (ended_at, started_at, node_id), the
// deterministic ordering required for comparable replays. Attempts without
// an end time sort last.
func (e *Execution) SortSequence(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := e.NodeExecutions[ids[i]], e.NodeExecutions[ids[j]]
		if a == nil || b == nil {
			return a != nil
		}
		ae, be := timeOrMax(a.EndedAt), timeOrMax(b.EndedAt)
		if !ae.Equal(be) {
			return ae.Before(be)
		}
		as, bs := timeOrMax(a.StartedAt), timeOrMax(b.StartedAt)
		if !as.Equal(bs) {
			return as.Before(bs)
		}
		return a.NodeID < b.NodeID
	})
}

var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

func timeOrMax(t *time.Time) time.Time {
	if t == nil {
		return farFuture
	}
	return *t
}
