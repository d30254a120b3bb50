package mcp

import (
	"context"
	"fmt"

	"statenerd-mcp-server/internal/browser"
	"statenerd-mcp-server/internal/recorder"
)

// ObservePageTool renders the current page state for a session.
type ObservePageTool struct {
	sessions *browser.SessionManager
	rec      *recorder.Recorder
}

func (t *ObservePageTool) Name() string { return "page_observe" }
func (t *ObservePageTool) Description() string {
	return `Read the current state of a tracked page.

THE PRIMARY TOOL for understanding what's on screen. Compiles the
rendered DOM into labeled nodes with stable element ids (eids), then
reports either a full baseline (first observation, or after moving to a
different document) or a diff against the previous observation.

WHAT YOU GET:
- navigation: none|spa|navigation plus the sanitized URL and title
- active overlay layer (modal/drawer/dialog) when one is stacked on top
- baseline or diff: appeared/removed/changed nodes keyed by eid
- ephemeral observations since the last observe (toasts, live-region
  text, removed-before-observed nodes), linked to eids where possible
- actionables: a capped, scored list of interactable nodes with eids

HOW TO ACT ON IT: pass an actionable's eid to page_act. Eids are stable
across observations of the same document, so a button keeps its id
while the page mutates around it.

Input values are masked (passwords fully; emails/phones partially), and
URLs carry only allow-listed query parameters.`
}
func (t *ObservePageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session to observe",
			},
		},
		"required": []string{"session_id"},
	}
}
func (t *ObservePageTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	resp, err := t.sessions.Observe(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	t.rec.Record("observe", sessionID, resp)
	return resp, nil
}

// ReadConsoleTool reads the buffered console triage for a session.
type ReadConsoleTool struct {
	sessions *browser.SessionManager
}

func (t *ReadConsoleTool) Name() string { return "console_read" }
func (t *ReadConsoleTool) Description() string {
	return `Read buffered console output for a session with a health summary.

WHEN TO USE:
- page_observe reported console_errors > 0
- An action failed and you need the page's own diagnostics
- Checking for warnings before relying on page behavior

The buffer clears on navigation, so messages always belong to the
current document. Levels: debug, info, warning, error.

Returns: {summary: {error_count, warning_count, status}, messages}`
}
func (t *ReadConsoleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session whose console to read",
			},
			"level": map[string]interface{}{
				"type":        "string",
				"description": "Minimum level to include (debug|info|warning|error); empty returns everything retained",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Maximum messages to return, newest kept (default 50, max 200)",
			},
		},
		"required": []string{"session_id"},
	}
}
func (t *ReadConsoleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	buf, ok := t.sessions.Console(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}

	level := getStringArg(args, "level")
	limit := clampInt(getIntArg(args, "limit", 50), 1, 200)

	messages := buf.Messages(level, limit)
	return map[string]interface{}{
		"session_id": sessionID,
		"summary":    buf.Summarize(),
		"dropped":    buf.Dropped(),
		"messages":   messages,
	}, nil
}
