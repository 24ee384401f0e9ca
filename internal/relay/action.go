package relay

import (
	"errors"
	"fmt"
)

// ActionSystemPrompt frames action requests coming from the voice interface.
const ActionSystemPrompt = "You are executing a command from the Realtime voice interface. " +
	"Execute the request and provide a brief response. Be concise."

// ErrMissingAction is returned by NewActionPayload when no action is named.
var ErrMissingAction = errors.New("missing action parameter")

// ActionRequest is a voice-interface command. Only the fields used by
// Action are read.
type ActionRequest struct {
	Action  string `json:"action"`
	To      string `json:"to,omitempty"`
	Message string `json:"message,omitempty"`
	Channel string `json:"channel,omitempty"`
	Command string `json:"command,omitempty"`
	Query   string `json:"query,omitempty"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
}

// UnknownActionError names an action with no message template.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return "unknown action: " + e.Action
}

// ActionMessage renders the user turn for an action.
func ActionMessage(req ActionRequest) (string, error) {
	switch req.Action {
	case "":
		return "", ErrMissingAction
	case "message.send":
		msg := fmt.Sprintf("Send a message to %s: \"%s\"", req.To, req.Message)
		if req.Channel != "" {
			msg += " via " + req.Channel
		}
		return msg, nil
	case "command.run":
		return "Run this shell command and tell me the result: " + req.Command, nil
	case "search.web":
		return "Search the web for: " + req.Query, nil
	case "file.write":
		return fmt.Sprintf("Write this content to the file %s:\n\n%s", req.Path, req.Content), nil
	case "file.read":
		return "Read and show me the contents of the file: " + req.Path, nil
	}
	return "", &UnknownActionError{Action: req.Action}
}

// NewActionPayload builds a non-streaming gateway request that carries the
// action system prompt ahead of the rendered user turn.
func NewActionPayload(req ActionRequest) (Payload, error) {
	msg, err := ActionMessage(req)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Model: Model,
		Messages: []Message{
			{Role: "system", Content: ActionSystemPrompt},
			{Role: "user", Content: msg},
		},
	}, nil
}
