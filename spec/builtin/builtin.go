// Package builtin declares the node specifications shipped with the engine
// and assembles them into a sealed spec.Registry at process start. One
// declaration exists per subtype; adding a node kind means adding a Spec here
// and registering an executor for it in the node package.
package builtin

import (
	"fmt"

	"goa.design/flow/spec"
)

// Registry builds and seals the full built-in catalog. It panics on
// registration conflicts, which can only result from a programming error in
// this package.
func Registry() *spec.Registry {
	r := spec.NewRegistry()
	all := [][]spec.Spec{
		triggers(),
		actions(),
		externalActions(),
		flows(),
		hil(),
		tools(),
		memories(),
		agents(),
	}
	for _, group := range all {
		for _, s := range group {
			if err := r.Register(s); err != nil {
				panic(fmt.Sprintf("builtin: %v", err))
			}
		}
	}
	r.Seal()
	return r
}

func fptr(f float64) *float64 { return &f }

// workConfigs are the retry and timeout keys shared by every spec that does
// real work (actions, external actions, AI agents).
func workConfigs() map[string]spec.ConfigSchema {
	return map[string]spec.ConfigSchema{
		"timeout_seconds": {
			Kind: spec.KindInt, Default: 120, Min: fptr(1), Max: fptr(3600),
			Description: "Wall-clock budget for a single attempt of this node.",
		},
		"retry_max_tries": {
			Kind: spec.KindInt, Default: 1, Min: fptr(1), Max: fptr(10),
			Description: "Total attempts for transient failures (NETWORK, RATE_LIMIT, PROVIDER_5XX).",
		},
		"retry_backoff_seconds": {
			Kind: spec.KindFloat, Default: 0.0, Min: fptr(0), Max: fptr(300),
			Description: "Delay between retry attempts.",
		},
	}
}

func merge(dst map[string]spec.ConfigSchema, more map[string]spec.ConfigSchema) map[string]spec.ConfigSchema {
	for k, v := range more {
		dst[k] = v
	}
	return dst
}

func triggers() []spec.Spec {
	return []spec.Spec{
		{
			Type: spec.TypeTrigger, Subtype: "MANUAL", Version: "1.0",
			Name:        "Manual Trigger",
			Description: "Starts the workflow on an explicit user request.",
			Tags:        []string{"trigger"},
			Output: map[string]spec.ParamSchema{
				"result":       {Kind: spec.KindJSON, Description: "Trigger data supplied by the caller."},
				"trigger_time": {Kind: spec.KindString},
				"execution_id": {Kind: spec.KindString},
				"user_id":      {Kind: spec.KindString},
			},
		},
		{
			Type: spec.TypeTrigger, Subtype: "CRON", Version: "1.0",
			Name:        "Cron Trigger",
			Description: "Starts the workflow on a cron schedule.",
			Tags:        []string{"trigger", "schedule"},
			Configurations: map[string]spec.ConfigSchema{
				"cron_expression": {Kind: spec.KindCron, Required: true,
					Description: "Standard five-field cron expression."},
			},
			Output: map[string]spec.ParamSchema{
				"result":          {Kind: spec.KindJSON},
				"trigger_time":    {Kind: spec.KindString},
				"execution_id":    {Kind: spec.KindString},
				"cron_expression": {Kind: spec.KindString},
			},
		},
		{
			Type: spec.TypeTrigger, Subtype: "WEBHOOK", Version: "1.0",
			Name:        "Webhook Trigger",
			Description: "Starts the workflow when the gateway receives a webhook.",
			Tags:        []string{"trigger", "webhook"},
			Configurations: map[string]spec.ConfigSchema{
				"path": {Kind: spec.KindString, Required: true,
					Description: "Webhook path registered with the gateway."},
			},
			Output: map[string]spec.ParamSchema{
				"result":       {Kind: spec.KindJSON, Description: "Webhook request body."},
				"trigger_time": {Kind: spec.KindString},
				"execution_id": {Kind: spec.KindString},
				"headers":      {Kind: spec.KindJSON},
			},
		},
	}
}

func actions() []spec.Spec {
	return []spec.Spec{
		{
			Type: spec.TypeAction, Subtype: "HTTP_REQUEST", Version: "1.0",
			Name:        "HTTP Request",
			Description: "Performs an HTTP request and exposes status, headers and body.",
			Tags:        []string{"action", "http"},
			Configurations: merge(map[string]spec.ConfigSchema{
				"method": {Kind: spec.KindEnum, Default: "GET", Required: true,
					Options: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"}},
				"url":     {Kind: spec.KindURL, Required: true},
				"headers": {Kind: spec.KindJSON, Description: "Static request headers."},
				"query":   {Kind: spec.KindJSON, Description: "Static query parameters."},
			}, workConfigs()),
			Input: map[string]spec.ParamSchema{
				"body": {Kind: spec.KindJSON, Description: "Request body, JSON-encoded when present."},
			},
			Output: map[string]spec.ParamSchema{
				"result":      {Kind: spec.KindJSON, Description: "Decoded response body."},
				"status_code": {Kind: spec.KindInt},
				"headers":     {Kind: spec.KindJSON},
			},
		},
	}
}

func externalActions() []spec.Spec {
	return []spec.Spec{
		{
			Type: spec.TypeExternalAction, Subtype: "SLACK_POST_MESSAGE", Version: "1.0",
			Name:        "Slack: Post Message",
			Description: "Posts a message to a Slack channel using workspace credentials.",
			Tags:        []string{"external", "slack"},
			SystemPromptAppendix: "Use this node to notify a Slack channel. " +
				"The message input supports Slack mrkdwn.",
			Configurations: merge(map[string]spec.ConfigSchema{
				"workspace": {Kind: spec.KindString, Default: "default",
					Description: "Credential workspace used to resolve the bot token."},
				"channel":         {Kind: spec.KindString, Required: true},
				"idempotency_key": {Kind: spec.KindString, Description: "Opaque pass-through idempotency key."},
			}, workConfigs()),
			Input: map[string]spec.ParamSchema{
				"message": {Kind: spec.KindString, Required: true},
				"blocks":  {Kind: spec.KindJSON},
			},
			Output: map[string]spec.ParamSchema{
				"result":     {Kind: spec.KindJSON},
				"success":    {Kind: spec.KindBool, Default: false},
				"message_ts": {Kind: spec.KindString},
			},
		},
		{
			Type: spec.TypeExternalAction, Subtype: "GITHUB_CREATE_ISSUE", Version: "1.0",
			Name:        "GitHub: Create Issue",
			Description: "Opens an issue in a GitHub repository.",
			Tags:        []string{"external", "github"},
			Configurations: merge(map[string]spec.ConfigSchema{
				"workspace":       {Kind: spec.KindString, Default: "default"},
				"repository":      {Kind: spec.KindString, Required: true, Description: "owner/name."},
				"idempotency_key": {Kind: spec.KindString},
			}, workConfigs()),
			Input: map[string]spec.ParamSchema{
				"title": {Kind: spec.KindString, Required: true},
				"body":  {Kind: spec.KindString},
			},
			Output: map[string]spec.ParamSchema{
				"result":       {Kind: spec.KindJSON},
				"issue_number": {Kind: spec.KindInt},
				"url":          {Kind: spec.KindString},
			},
		},
	}
}

func flows() []spec.Spec {
	return []spec.Spec{
		{
			Type: spec.TypeFlow, Subtype: "IF", Version: "1.0",
			Name:        "If",
			Description: "Routes the input payload to the true or false branch.",
			Tags:        []string{"flow"},
			Configurations: map[string]spec.ConfigSchema{
				"condition_expression": {Kind: spec.KindString, Required: true,
					Description: "Boolean expression over input field paths."},
			},
			Output: map[string]spec.ParamSchema{
				"true":  {Kind: spec.KindJSON},
				"false": {Kind: spec.KindJSON},
			},
		},
		{
			Type: spec.TypeFlow, Subtype: "SWITCH", Version: "1.0",
			Name:        "Switch",
			Description: "Routes the input payload to the branch matching the evaluated case label.",
			Tags:        []string{"flow"},
			Configurations: map[string]spec.ConfigSchema{
				"switch_expression": {Kind: spec.KindString, Required: true,
					Description: "Expression yielding a case label."},
				"cases": {Kind: spec.KindJSON, Required: true,
					Schema:      `{"type":"array","items":{"type":"string"},"minItems":1}`,
					Description: "Declared case labels; each becomes a legal output key."},
				"default_case": {Kind: spec.KindString, Default: "default"},
			},
		},
		{
			Type: spec.TypeFlow, Subtype: "LOOP", Version: "1.0",
			Name:        "Loop",
			Description: "Fans out one iteration per element of the input collection.",
			Tags:        []string{"flow"},
			Configurations: map[string]spec.ConfigSchema{
				"max_iterations": {Kind: spec.KindInt, Default: 10000, Min: fptr(1), Max: fptr(1000000)},
			},
			Input: map[string]spec.ParamSchema{
				"items": {Kind: spec.KindJSON, Required: true, Description: "Collection to iterate."},
			},
			Output: map[string]spec.ParamSchema{
				"item":   {Kind: spec.KindJSON, Description: "Per-iteration value with item/index fields."},
				"result": {Kind: spec.KindJSON, Description: "The full collection, emitted once."},
			},
		},
		{
			Type: spec.TypeFlow, Subtype: "MERGE", Version: "1.0",
			Name:        "Merge",
			Description: "Joins branches: fires on the first input (any) or once all inputs arrive (all).",
			Tags:        []string{"flow"},
			Configurations: map[string]spec.ConfigSchema{
				"mode": {Kind: spec.KindEnum, Default: "all", Options: []string{"any", "all"}},
			},
			Output: map[string]spec.ParamSchema{
				"result": {Kind: spec.KindJSON},
			},
		},
		{
			Type: spec.TypeFlow, Subtype: "FILTER", Version: "1.0",
			Name:        "Filter",
			Description: "Keeps the elements of a list input for which the predicate holds.",
			Tags:        []string{"flow"},
			Configurations: map[string]spec.ConfigSchema{
				"predicate_expression": {Kind: spec.KindString, Required: true,
					Description: "Boolean expression over item and index."},
			},
			Input: map[string]spec.ParamSchema{
				"items": {Kind: spec.KindJSON, Required: true},
			},
			Output: map[string]spec.ParamSchema{
				"result": {Kind: spec.KindJSON},
			},
		},
		{
			Type: spec.TypeFlow, Subtype: "SORT", Version: "1.0",
			Name:        "Sort",
			Description: "Sorts a list input by a key expression.",
			Tags:        []string{"flow"},
			Configurations: map[string]spec.ConfigSchema{
				"key_expression": {Kind: spec.KindString, Default: "item",
					Description: "Expression yielding the sort key for each item."},
				"order": {Kind: spec.KindEnum, Default: "asc", Options: []string{"asc", "desc"}},
			},
			Input: map[string]spec.ParamSchema{
				"items": {Kind: spec.KindJSON, Required: true},
			},
			Output: map[string]spec.ParamSchema{
				"result": {Kind: spec.KindJSON},
			},
		},
		{
			Type: spec.TypeFlow, Subtype: "WAIT", Version: "1.0",
			Name:        "Wait",
			Description: "Suspends the branch until the configured duration elapses.",
			Tags:        []string{"flow"},
			Configurations: map[string]spec.ConfigSchema{
				"duration_seconds": {Kind: spec.KindInt, Required: true, Min: fptr(0), Max: fptr(86400 * 30)},
			},
			Output: map[string]spec.ParamSchema{
				"result": {Kind: spec.KindJSON, Description: "Input payload, passed through after the wait."},
			},
		},
		{
			Type: spec.TypeFlow, Subtype: "DELAY", Version: "1.0",
			Name:        "Delay",
			Description: "Short inline pause before passing the input through.",
			Tags:        []string{"flow"},
			Configurations: map[string]spec.ConfigSchema{
				"delay_seconds": {Kind: spec.KindInt, Default: 0, Min: fptr(0), Max: fptr(3600)},
			},
			Output: map[string]spec.ParamSchema{
				"result": {Kind: spec.KindJSON},
			},
		},
	}
}

// hilOutputs are the four classification branches every HIL node exposes.
func hilOutputs() map[string]spec.ParamSchema {
	return map[string]spec.ParamSchema{
		"confirmed": {Kind: spec.KindJSON},
		"rejected":  {Kind: spec.KindJSON},
		"unrelated": {Kind: spec.KindJSON},
		"timeout":   {Kind: spec.KindJSON},
	}
}

func hil() []spec.Spec {
	return []spec.Spec{
		{
			Type: spec.TypeHumanInTheLoop, Subtype: "SLACK_INTERACTION", Version: "1.0",
			Name:        "Slack Approval",
			Description: "Posts a rendered message to Slack and pauses until a human responds.",
			Tags:        []string{"hil", "slack"},
			Configurations: map[string]spec.ConfigSchema{
				"workspace":        {Kind: spec.KindString, Default: "default"},
				"channel":          {Kind: spec.KindString, Required: true},
				"message_template": {Kind: spec.KindString, Required: true, Multiline: true},
				"timeout_minutes":  {Kind: spec.KindInt, Default: 60, Min: fptr(1), Max: fptr(10080)},
				"ai_analysis_model": {Kind: spec.KindString, Default: "gpt-4o-mini",
					Description: "Model used to classify the human response."},
			},
			Output: hilOutputs(),
		},
		{
			Type: spec.TypeHumanInTheLoop, Subtype: "MANUAL_REVIEW", Version: "1.0",
			Name:        "Manual Review",
			Description: "Registers a review task and pauses until it is resolved through the API.",
			Tags:        []string{"hil"},
			Configurations: map[string]spec.ConfigSchema{
				"title":             {Kind: spec.KindString, Required: true},
				"instructions":      {Kind: spec.KindString, Multiline: true},
				"timeout_minutes":   {Kind: spec.KindInt, Default: 1440, Min: fptr(1), Max: fptr(43200)},
				"ai_analysis_model": {Kind: spec.KindString, Default: "gpt-4o-mini"},
			},
			Output: hilOutputs(),
		},
	}
}

func tools() []spec.Spec {
	return []spec.Spec{
		{
			Type: spec.TypeTool, Subtype: "MCP", Version: "1.0",
			Name:        "MCP Toolset",
			Description: "Tool endpoint advertised to an owning AI agent. Attached only; never scheduled.",
			Tags:        []string{"tool", "mcp"},
			SystemPromptAppendix: "Prefer the attached tools over answering from " +
				"memory when a tool covers the question.",
			Configurations: map[string]spec.ConfigSchema{
				"endpoint":   {Kind: spec.KindURL, Required: true},
				"transport":  {Kind: spec.KindEnum, Default: "http", Options: []string{"http", "sse"}},
				"auth_token": {Kind: spec.KindString, Sensitive: true},
			},
		},
	}
}

func memories() []spec.Spec {
	return []spec.Spec{
		{
			Type: spec.TypeMemory, Subtype: "CONVERSATION_BUFFER", Version: "1.0",
			Name:        "Conversation Buffer",
			Description: "Rolling window of prior conversation turns loaded into the agent's context.",
			Tags:        []string{"memory"},
			Configurations: map[string]spec.ConfigSchema{
				"max_messages": {Kind: spec.KindInt, Default: 50, Min: fptr(1), Max: fptr(1000)},
				"write":        {Kind: spec.KindBool, Default: true},
			},
		},
		{
			Type: spec.TypeMemory, Subtype: "KEY_VALUE_STORE", Version: "1.0",
			Name:        "Key-Value Store",
			Description: "Namespaced key-value memory persisted across executions.",
			Tags:        []string{"memory"},
			Configurations: map[string]spec.ConfigSchema{
				"namespace":   {Kind: spec.KindString, Required: true},
				"write":       {Kind: spec.KindBool, Default: true},
				"ttl_seconds": {Kind: spec.KindInt, Default: 0, Min: fptr(0), Max: fptr(86400 * 365)},
			},
		},
	}
}

func agents() []spec.Spec {
	agent := func(subtype, defaultModel string) spec.Spec {
		return spec.Spec{
			Type: spec.TypeAIAgent, Subtype: subtype, Version: "1.0",
			Name:          subtype + " Agent",
			Description:   "Runs model turns with attached memory context and tool access.",
			Tags:          []string{"ai"},
			AllowAttached: true,
			Configurations: merge(map[string]spec.ConfigSchema{
				"model":         {Kind: spec.KindString, Default: defaultModel, Required: true},
				"system_prompt": {Kind: spec.KindString, Multiline: true},
				"temperature":   {Kind: spec.KindFloat, Default: 0.7, Min: fptr(0), Max: fptr(2)},
				"max_tokens":    {Kind: spec.KindInt, Default: 1024, Min: fptr(1), Max: fptr(128000)},
				"max_tool_turns": {Kind: spec.KindInt, Default: 8, Min: fptr(1), Max: fptr(64),
					Description: "Upper bound on model/tool round trips per node execution."},
			}, workConfigs()),
			Input: map[string]spec.ParamSchema{
				"message": {Kind: spec.KindString, Required: true},
				"context": {Kind: spec.KindJSON},
			},
			Output: map[string]spec.ParamSchema{
				"result":  {Kind: spec.KindJSON},
				"content": {Kind: spec.KindString},
				"usage":   {Kind: spec.KindJSON},
			},
		}
	}
	return []spec.Spec{
		agent("OPENAI", "gpt-4o"),
		agent("ANTHROPIC", "claude-sonnet-4-20250514"),
		agent("GEMINI", "gemini-2.0-flash"),
	}
}
