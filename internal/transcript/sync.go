// Package transcript mirrors gateway session history into the local store.
package transcript

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/topanga/clawrelay/internal/relay"
	"github.com/topanga/clawrelay/internal/storage"
)

// Window is how many recent messages are compared on each side.
const Window = 50

// HistorySource fetches a session transcript from the gateway.
type HistorySource interface {
	History(ctx context.Context, sessionID string, limit int) ([]relay.SessionMessage, error)
}

// MessageStore reads and writes stored transcript messages.
type MessageStore interface {
	ListMessages(sessionID string, limit int) ([]storage.Message, error)
	SaveMessages(msgs []storage.Message) error
}

// Result summarizes one sync run.
type Result struct {
	Synced       int `json:"synced"`
	GatewayCount int `json:"gateway_count"`
}

// Syncer copies gateway messages that are missing locally into the store.
// Messages are matched by trimmed content since gateway and store IDs differ.
type Syncer struct {
	source HistorySource
	store  MessageStore
}

func NewSyncer(source HistorySource, store MessageStore) *Syncer {
	return &Syncer{source: source, store: store}
}

// Sync fetches the gateway history and the local transcript concurrently,
// then inserts gateway messages whose content is not stored yet. System
// messages and empty content are never copied.
func (s *Syncer) Sync(ctx context.Context, sessionID string) (Result, error) {
	var (
		remote []relay.SessionMessage
		local  []storage.Message
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		msgs, err := s.source.History(gCtx, sessionID, Window)
		if err != nil {
			return fmt.Errorf("fetching gateway history: %w", err)
		}
		remote = msgs
		return nil
	})
	g.Go(func() error {
		msgs, err := s.store.ListMessages(sessionID, Window)
		if err != nil {
			return fmt.Errorf("reading stored messages: %w", err)
		}
		local = msgs
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	seen := make(map[string]struct{}, len(local))
	for _, m := range local {
		seen[strings.TrimSpace(m.Content)] = struct{}{}
	}

	var missing []storage.Message
	for _, m := range remote {
		if m.Role == "system" {
			continue
		}
		key := strings.TrimSpace(m.Content)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		missing = append(missing, storage.Message{
			SessionID: sessionID,
			Role:      m.Role,
			Content:   m.Content,
			Source:    storage.SourceGateway,
			CreatedAt: m.CreatedAt,
		})
	}

	if err := s.store.SaveMessages(missing); err != nil {
		return Result{}, fmt.Errorf("storing synced messages: %w", err)
	}

	return Result{Synced: len(missing), GatewayCount: len(remote)}, nil
}
