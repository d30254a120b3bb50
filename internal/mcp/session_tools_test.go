package mcp

import (
	"context"
	"strings"
	"testing"

	"statenerd-mcp-server/internal/browser"

	"go.uber.org/zap"
)

func testSessions(t *testing.T) *browser.SessionManager {
	t.Helper()
	return browser.NewSessionManager(testConfig(), nil, zap.NewNop())
}

func TestSessionToolsRequireArgs(t *testing.T) {
	sessions := testSessions(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		tool    Tool
		args    map[string]interface{}
		wantErr string
	}{
		{"attach without target_id", &AttachSessionTool{sessions: sessions}, map[string]interface{}{}, "target_id is required"},
		{"fork without session_id", &ForkSessionTool{sessions: sessions}, map[string]interface{}{}, "session_id is required"},
		{"close without session_id", &CloseSessionTool{sessions: sessions}, map[string]interface{}{}, "session_id is required"},
		{"navigate without session_id", &NavigateSessionTool{sessions: sessions}, map[string]interface{}{}, "session_id is required"},
		{"navigate without url", &NavigateSessionTool{sessions: sessions}, map[string]interface{}{"session_id": "s1"}, "url is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.tool.Execute(ctx, tc.args)
			if err == nil || err.Error() != tc.wantErr {
				t.Errorf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestSessionToolsWithoutBrowser(t *testing.T) {
	sessions := testSessions(t)
	ctx := context.Background()

	t.Run("list is empty", func(t *testing.T) {
		tool := &ListSessionsTool{sessions: sessions}
		result, err := tool.Execute(ctx, map[string]interface{}{})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		resultMap := result.(map[string]interface{})
		if got := resultMap["sessions"].([]browser.Session); len(got) != 0 {
			t.Errorf("expected no sessions, got %d", len(got))
		}
	})

	t.Run("create needs a browser", func(t *testing.T) {
		tool := &CreateSessionTool{sessions: sessions}
		_, err := tool.Execute(ctx, map[string]interface{}{"url": "https://a.test"})
		if err == nil || !strings.Contains(err.Error(), "browser not connected") {
			t.Errorf("err = %v, want browser not connected", err)
		}
	})

	t.Run("attach needs a browser", func(t *testing.T) {
		tool := &AttachSessionTool{sessions: sessions}
		_, err := tool.Execute(ctx, map[string]interface{}{"target_id": "ABC123"})
		if err == nil || !strings.Contains(err.Error(), "browser not connected") {
			t.Errorf("err = %v, want browser not connected", err)
		}
	})

	t.Run("shutdown is idempotent", func(t *testing.T) {
		tool := &ShutdownBrowserTool{sessions: sessions}
		result, err := tool.Execute(ctx, map[string]interface{}{})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		resultMap := result.(map[string]interface{})
		if resultMap["status"] != "stopped" {
			t.Errorf("status = %v, want stopped", resultMap["status"])
		}
	})
}

func TestSessionToolsUnknownSession(t *testing.T) {
	sessions := testSessions(t)
	ctx := context.Background()

	cases := []struct {
		name string
		tool Tool
		args map[string]interface{}
	}{
		{"fork", &ForkSessionTool{sessions: sessions}, map[string]interface{}{"session_id": "ghost"}},
		{"close", &CloseSessionTool{sessions: sessions}, map[string]interface{}{"session_id": "ghost"}},
		{"navigate", &NavigateSessionTool{sessions: sessions}, map[string]interface{}{"session_id": "ghost", "url": "https://a.test"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.tool.Execute(ctx, tc.args)
			if err == nil || !strings.Contains(err.Error(), "unknown session") {
				t.Errorf("err = %v, want unknown session", err)
			}
		})
	}
}

func TestSessionToolSchemas(t *testing.T) {
	sessions := testSessions(t)

	cases := []struct {
		tool     Tool
		required []string
	}{
		{&LaunchBrowserTool{sessions: sessions}, nil},
		{&CreateSessionTool{sessions: sessions}, nil},
		{&AttachSessionTool{sessions: sessions}, []string{"target_id"}},
		{&ForkSessionTool{sessions: sessions}, []string{"session_id"}},
		{&CloseSessionTool{sessions: sessions}, []string{"session_id"}},
		{&NavigateSessionTool{sessions: sessions}, []string{"session_id", "url"}},
	}

	for _, tc := range cases {
		t.Run(tc.tool.Name(), func(t *testing.T) {
			schema := tc.tool.InputSchema()
			if schema["type"] != "object" {
				t.Errorf("schema type = %v, want object", schema["type"])
			}
			if tc.required == nil {
				return
			}
			required, ok := schema["required"].([]string)
			if !ok {
				t.Fatalf("required type %T", schema["required"])
			}
			for _, want := range tc.required {
				found := false
				for _, r := range required {
					if r == want {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("required missing %s", want)
				}
			}
		})
	}
}
