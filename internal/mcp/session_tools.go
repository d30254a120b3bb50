package mcp

import (
	"context"
	"fmt"

	"statenerd-mcp-server/internal/browser"
	"statenerd-mcp-server/internal/recorder"
)

// LaunchBrowserTool starts Chrome using the configured launch settings.
type LaunchBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *LaunchBrowserTool) Name() string { return "browser_launch" }
func (t *LaunchBrowserTool) Description() string {
	return `Start the managed Chrome instance for page tracking.

Idempotent: safe to call when already running. With auto_start enabled
in config the server launches Chrome on boot, so this is only needed
after browser_shutdown or when auto_start is off.

Returns: {status: "started"|"already_connected", control_url}`
}
func (t *LaunchBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *LaunchBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.sessions.IsConnected() {
		return map[string]interface{}{
			"status":      "already_connected",
			"control_url": t.sessions.ControlURL(),
		}, nil
	}

	if err := t.sessions.Start(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":      "started",
		"control_url": t.sessions.ControlURL(),
	}, nil
}

// ShutdownBrowserTool stops Chrome and clears all tracked sessions.
type ShutdownBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *ShutdownBrowserTool) Name() string { return "browser_shutdown" }
func (t *ShutdownBrowserTool) Description() string {
	return `Stop the managed Chrome instance and close every session.

Session state and element identity registries are discarded; the fact
buffer persists, so state_query still answers over past activity.

Returns: {status: "stopped"}`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ShutdownBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.sessions.Shutdown(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "stopped"}, nil
}

// ListSessionsTool enumerates tracked sessions.
type ListSessionsTool struct {
	sessions *browser.SessionManager
}

func (t *ListSessionsTool) Name() string { return "session_list" }
func (t *ListSessionsTool) Description() string {
	return `List all tracked page sessions.

USE THIS FIRST to discover existing sessions before creating new ones.
Every other tool takes a session_id from this list.

Returns: {sessions: [{id, url, title, created_at, last_active}]}`
}
func (t *ListSessionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListSessionsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"sessions": t.sessions.List()}, nil
}

// CreateSessionTool opens a new page with state tracking attached.
type CreateSessionTool struct {
	sessions *browser.SessionManager
}

func (t *CreateSessionTool) Name() string { return "session_create" }
func (t *CreateSessionTool) Description() string {
	return `Open a new tracked page session.

PREREQUISITE: browser must be running (browser_launch, or auto_start).

The session carries its own element identity registry, mutation
observer, and console buffer. Element ids (eids) are only meaningful
within the session that produced them.

WORKFLOW:
1. session_create (with optional starting URL)
2. page_observe to read the page state
3. page_act using eids from the observation

Returns: {session: {id, url, title}}`
}
func (t *CreateSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Optional URL to navigate after opening the session",
			},
		},
	}
}
func (t *CreateSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url := getStringArg(args, "url")
	if url == "" {
		url = "about:blank"
	}

	sess, err := t.sessions.CreateSession(ctx, url)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": sess}, nil
}

// AttachSessionTool adopts an existing Chrome tab by CDP TargetID.
type AttachSessionTool struct {
	sessions *browser.SessionManager
}

func (t *AttachSessionTool) Name() string { return "session_attach" }
func (t *AttachSessionTool) Description() string {
	return `Attach state tracking to an existing Chrome tab by its CDP TargetID.

USE INSTEAD OF session_create when the page is already open: a manually
opened tab, or one created by another process. The observer installs on
attach, so mutations are tracked from that point on.

Returns: {session: {id, url, title}}`
}
func (t *AttachSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_id": map[string]interface{}{
				"type":        "string",
				"description": "CDP TargetID of the tab to attach",
			},
		},
		"required": []string{"target_id"},
	}
}
func (t *AttachSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	targetID := getStringArg(args, "target_id")
	if targetID == "" {
		return nil, fmt.Errorf("target_id is required")
	}

	sess, err := t.sessions.Attach(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": sess}, nil
}

// ForkSessionTool clones a session's cookies and storage into a new tab.
type ForkSessionTool struct {
	sessions *browser.SessionManager
}

func (t *ForkSessionTool) Name() string { return "session_fork" }
func (t *ForkSessionTool) Description() string {
	return `Clone an existing session's auth state (cookies, localStorage) into
a new tracked tab.

WHEN TO USE:
- Exploring different paths from the same logged-in starting point
- Running parallel flows that need the same auth state

The fork gets a fresh identity registry and step counter; eids from the
source session do not transfer.

Returns: {forked_from, session: {id, url, title}}`
}
func (t *ForkSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Existing session to fork",
			},
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Optional URL override for the forked session",
			},
		},
		"required": []string{"session_id"},
	}
}
func (t *ForkSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	url := getStringArg(args, "url")
	sess, err := t.sessions.ForkSession(ctx, sessionID, url)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"forked_from": sessionID,
		"session":     sess,
	}, nil
}

// CloseSessionTool closes one session and finishes its trace.
type CloseSessionTool struct {
	sessions *browser.SessionManager
	rec      *recorder.Recorder
}

func (t *CloseSessionTool) Name() string { return "session_close" }
func (t *CloseSessionTool) Description() string {
	return `Close a tracked session and its tab.

Discards the session's identity registry, observer state, and console
buffer. Facts already emitted stay in the engine buffer.

Returns: {status: "closed", session_id}`
}
func (t *CloseSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session to close",
			},
		},
		"required": []string{"session_id"},
	}
}
func (t *CloseSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	if err := t.sessions.CloseSession(ctx, sessionID); err != nil {
		return nil, err
	}
	t.rec.CloseSession(sessionID)
	return map[string]interface{}{
		"status":     "closed",
		"session_id": sessionID,
	}, nil
}

// NavigateSessionTool drives a session to a URL.
type NavigateSessionTool struct {
	sessions *browser.SessionManager
}

func (t *NavigateSessionTool) Name() string { return "session_navigate" }
func (t *NavigateSessionTool) Description() string {
	return `Navigate a session to a URL and wait for the load event.

Element identities survive navigation within the same document (origin +
path); a different document starts a fresh baseline on the next
page_observe. Follow with page_observe to read the landed state.

Returns: {status: "navigated", session_id, url}`
}
func (t *NavigateSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session to navigate",
			},
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Destination URL",
			},
		},
		"required": []string{"session_id", "url"},
	}
}
func (t *NavigateSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	url := getStringArg(args, "url")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	if err := t.sessions.Navigate(ctx, sessionID, url); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":     "navigated",
		"session_id": sessionID,
		"url":        url,
	}, nil
}
