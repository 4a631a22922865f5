package node

import (
	"context"
	"time"
)

// Trigger emits the trigger payload as the workflow's first outputs. One
// executor serves every trigger subtype; the differences between manual,
// cron and webhook triggers live in how executions are started, not in how
// the node runs.
type Trigger struct{}

// Execute implements Executor.
func (Trigger) Execute(_ context.Context, in *Input) (*Output, error) {
	values := map[string]any{
		"result":       in.Trigger,
		"trigger_time": in.TriggerTime.UTC().Format(time.RFC3339),
		"execution_id": in.ExecutionID,
	}
	switch in.Subtype {
	case "CRON":
		values["cron_expression"] = configString(in.Config, "cron_expression")
	case "WEBHOOK":
		if h, ok := in.Trigger["headers"]; ok {
			values["headers"] = h
		}
	case "MANUAL":
		if u, ok := in.Trigger["user_id"]; ok {
			values["user_id"] = u
		}
	}
	return &Output{Values: values}, nil
}
