package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Message sources.
const (
	SourceClient  = "client"
	SourceGateway = "gateway"
)

// Message is one stored transcript entry.
type Message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	Source    string // SourceClient or SourceGateway
	CreatedAt time.Time
}
