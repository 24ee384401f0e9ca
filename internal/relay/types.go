package relay

import "encoding/json"

// ChatRequest is the inbound chat request accepted by the relay.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// Message is one role/content pair in the gateway request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Payload is the OpenAI-compatible body sent to the gateway's
// chat-completions endpoint. Built fresh for every request.
type Payload struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	User     string    `json:"user,omitempty"`
	Stream   bool      `json:"stream,omitempty"`
}

// completion is the subset of a non-streaming completion the relay reads.
type completion struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// historyResponse is the gateway's session history document.
type historyResponse struct {
	Messages []struct {
		Role      string          `json:"role"`
		Content   json.RawMessage `json:"content"`
		Timestamp json.RawMessage `json:"timestamp"`
	} `json:"messages"`
}
