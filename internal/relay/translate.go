package relay

// Model is the fixed backend identifier the gateway routes on.
const Model = "openclaw"

// NewPayload translates an inbound chat request into the gateway request
// shape. The message becomes the single user turn; the session id, when set,
// is forwarded as the OpenAI "user" field.
func NewPayload(req ChatRequest, stream bool) Payload {
	return Payload{
		Model:    Model,
		Messages: []Message{{Role: "user", Content: req.Message}},
		User:     req.SessionID,
		Stream:   stream,
	}
}
