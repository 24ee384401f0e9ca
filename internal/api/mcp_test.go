package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/topanga/clawrelay/internal/relay"
	"github.com/topanga/clawrelay/internal/storage"
)

// --- mocks ---

type mockCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	got   []relay.Payload
}

func (m *mockCompleter) Complete(_ context.Context, p relay.Payload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, p)
	return m.reply, m.err
}

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store, *mockCompleter) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gw := &mockCompleter{reply: "hello from agent"}
	return MCPDeps{
		Gateway:    gw,
		Store:      store,
		SessionKey: "agent:main:main",
	}, store, gw
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func seedMessages(t *testing.T, store *storage.Store, sessionID string, n int) {
	t.Helper()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := store.SaveMessage(storage.Message{
			SessionID: sessionID,
			Role:      "user",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}
}

// --- tests ---

func TestMCPTool_Chat(t *testing.T) {
	deps, _, gw := newTestMCPDeps(t)
	handler := mcpChat(deps)

	req := makeCallToolRequest("chat", map[string]interface{}{
		"message":    "what's up?",
		"session_id": "s-42",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "hello from agent" {
		t.Fatalf("unexpected reply: %s", text)
	}

	if len(gw.got) != 1 {
		t.Fatalf("expected 1 upstream call, got %d", len(gw.got))
	}
	p := gw.got[0]
	if p.Model != relay.Model || p.User != "s-42" || p.Stream {
		t.Errorf("payload = %+v", p)
	}
	if len(p.Messages) != 1 || p.Messages[0].Content != "what's up?" {
		t.Errorf("messages = %+v", p.Messages)
	}
}

func TestMCPTool_Chat_MissingMessage(t *testing.T) {
	deps, _, gw := newTestMCPDeps(t)

	result, err := mcpChat(deps)(context.Background(), makeCallToolRequest("chat", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if len(gw.got) != 0 {
		t.Errorf("gateway called %d times, want 0", len(gw.got))
	}
}

func TestMCPTool_Chat_GatewayError(t *testing.T) {
	deps, _, gw := newTestMCPDeps(t)
	gw.err = &relay.RejectedError{Status: 503, Body: "overloaded"}

	result, err := mcpChat(deps)(context.Background(), makeCallToolRequest("chat", map[string]interface{}{
		"message": "hi",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if text := toolText(t, result); !strings.Contains(text, "overloaded") {
		t.Errorf("error text = %q, want gateway body", text)
	}
}

func TestMCPTool_ChatHistory(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	seedMessages(t, store, "agent:main:main", 5)
	seedMessages(t, store, "other", 2)

	result, err := mcpChatHistory(deps)(context.Background(), makeCallToolRequest("chat_history", map[string]interface{}{
		"limit": 3,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var msgs []mcpMessage
	if err := json.Unmarshal([]byte(toolText(t, result)), &msgs); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "message 2" || msgs[2].Content != "message 4" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestMCPTool_ChatHistory_ExplicitSession(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	seedMessages(t, store, "other", 2)

	result, err := mcpChatHistory(deps)(context.Background(), makeCallToolRequest("chat_history", map[string]interface{}{
		"session_id": "other",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var msgs []mcpMessage
	if err := json.Unmarshal([]byte(toolText(t, result)), &msgs); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	seedMessages(t, store, "agent:main:main", 12)
	if _, err := store.SaveMessage(storage.Message{
		SessionID: "agent:main:main",
		Role:      "assistant",
		Content:   strings.Repeat("x", 300),
		CreatedAt: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatal(err)
	}

	contents, err := mcpResourceRecent(deps)(context.Background(), makeReadResourceRequest("session://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var msgs []mcpMessage
	if err := json.Unmarshal([]byte(tc.Text), &msgs); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(msgs) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(msgs))
	}
	last := msgs[len(msgs)-1].Content
	if !strings.HasSuffix(last, "...") || len([]rune(last)) != 203 {
		t.Errorf("long content not truncated: %d runes", len([]rune(last)))
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	seedMessages(t, store, "agent:main:main", 3)

	chat := mcpChat(deps)
	history := mcpChatHistory(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 10)

	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := chat(context.Background(), makeCallToolRequest("chat", map[string]interface{}{"message": "hi"}))
			if err == nil && res.IsError {
				err = errors.New("chat returned error result")
			}
			if err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			res, err := history(context.Background(), makeCallToolRequest("chat_history", map[string]interface{}{}))
			if err == nil && res.IsError {
				err = errors.New("chat_history returned error result")
			}
			if err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}
