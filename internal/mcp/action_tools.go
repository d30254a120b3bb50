package mcp

import (
	"context"
	"fmt"

	"statenerd-mcp-server/internal/browser"
	"statenerd-mcp-server/internal/recorder"
)

// ActPageTool performs an eid-addressed action on a tracked page.
type ActPageTool struct {
	sessions *browser.SessionManager
	rec      *recorder.Recorder
}

func (t *ActPageTool) Name() string { return "page_act" }
func (t *ActPageTool) Description() string {
	return `Perform an action on an element addressed by its eid.

Get eids from page_observe's actionables list. The target resolves
through the session's identity registry; if the underlying DOM node went
stale, the registry refreshes and resolution retries once before
failing.

ACTIONS:
- click            left-click the element
- fill (value)     clear then type into an input/textarea; set submit
                   to also press Enter
- select (value)   choose a <select> option by value, falling back to
                   visible text
- toggle           flip a checkbox/radio/switch
- clear            empty an input
- hover            move the pointer onto the element
- press (key)      focus the element, then press enter|tab|escape|
                   backspace|delete|space

The result includes any ephemeral observations that fired while the
action ran (toasts, validation text, nodes that appeared and vanished).
Follow with page_observe for the resulting page state.

Returns: {eid, action, outcome, value?, checked?, refreshed?, observations?}`
}
func (t *ActPageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session holding the element",
			},
			"eid": map[string]interface{}{
				"type":        "string",
				"description": "Element id from page_observe",
			},
			"action": map[string]interface{}{
				"type":        "string",
				"description": "click|fill|select|toggle|clear|hover|press",
			},
			"value": map[string]interface{}{
				"type":        "string",
				"description": "Text for fill, option value for select",
			},
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Key name for press (enter|tab|escape|backspace|delete|space)",
			},
			"submit": map[string]interface{}{
				"type":        "boolean",
				"description": "After fill, press Enter to submit",
			},
		},
		"required": []string{"session_id", "eid", "action"},
	}
}
func (t *ActPageTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	req := browser.ActionRequest{
		SessionID: getStringArg(args, "session_id"),
		EID:       getStringArg(args, "eid"),
		Action:    getStringArg(args, "action"),
		Value:     getStringArg(args, "value"),
		Key:       getStringArg(args, "key"),
		Submit:    getBoolArg(args, "submit", false),
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if req.EID == "" {
		return nil, fmt.Errorf("eid is required")
	}
	if req.Action == "" {
		return nil, fmt.Errorf("action is required")
	}

	result, err := t.sessions.Act(ctx, req)
	if err != nil {
		return nil, err
	}
	t.rec.Record("act", req.SessionID, result)
	return result, nil
}
