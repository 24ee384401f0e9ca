package relay

import (
	"errors"
	"testing"
)

func TestActionMessage(t *testing.T) {
	tests := []struct {
		name string
		req  ActionRequest
		want string
	}{
		{
			name: "send with channel",
			req:  ActionRequest{Action: "message.send", To: "sam", Message: "on my way", Channel: "signal"},
			want: `Send a message to sam: "on my way" via signal`,
		},
		{
			name: "send without channel",
			req:  ActionRequest{Action: "message.send", To: "sam", Message: "hi"},
			want: `Send a message to sam: "hi"`,
		},
		{
			name: "command",
			req:  ActionRequest{Action: "command.run", Command: "uptime"},
			want: "Run this shell command and tell me the result: uptime",
		},
		{
			name: "search",
			req:  ActionRequest{Action: "search.web", Query: "weather"},
			want: "Search the web for: weather",
		},
		{
			name: "write",
			req:  ActionRequest{Action: "file.write", Path: "/tmp/a", Content: "x"},
			want: "Write this content to the file /tmp/a:\n\nx",
		},
		{
			name: "read",
			req:  ActionRequest{Action: "file.read", Path: "/tmp/a"},
			want: "Read and show me the contents of the file: /tmp/a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ActionMessage(tt.req)
			if err != nil {
				t.Fatalf("ActionMessage: %v", err)
			}
			if got != tt.want {
				t.Errorf("message = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionMessage_Errors(t *testing.T) {
	if _, err := ActionMessage(ActionRequest{}); !errors.Is(err, ErrMissingAction) {
		t.Errorf("err = %v, want ErrMissingAction", err)
	}

	_, err := ActionMessage(ActionRequest{Action: "launch.rocket"})
	var unknown *UnknownActionError
	if !errors.As(err, &unknown) || unknown.Action != "launch.rocket" {
		t.Errorf("err = %v, want *UnknownActionError", err)
	}
}

func TestNewActionPayload(t *testing.T) {
	p, err := NewActionPayload(ActionRequest{Action: "search.web", Query: "go"})
	if err != nil {
		t.Fatalf("NewActionPayload: %v", err)
	}
	if p.Model != Model || p.Stream || p.User != "" {
		t.Errorf("payload = %+v", p)
	}
	if len(p.Messages) != 2 || p.Messages[0].Role != "system" || p.Messages[0].Content != ActionSystemPrompt {
		t.Fatalf("messages = %+v", p.Messages)
	}
	if p.Messages[1].Role != "user" || p.Messages[1].Content != "Search the web for: go" {
		t.Errorf("user turn = %+v", p.Messages[1])
	}
}
