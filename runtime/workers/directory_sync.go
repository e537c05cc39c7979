package workers

import (
	"context"
	"log/slog"
	"time"
)

// Refresher is the part of the conversation directory refreshed in background.
type Refresher interface {
	RefreshRequests() <-chan struct{}
	Refresh(ctx context.Context, userID string) error
}

// ReadMarker acknowledges conversations to the backend.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID, userID string) error
}

// DirectoryRefreshWorker reloads the conversation list each time the
// directory asks for it, e.g. after a message for an unknown conversation.
type DirectoryRefreshWorker struct {
	log       *slog.Logger
	directory Refresher
	userID    string
}

func NewDirectoryRefreshWorker(log *slog.Logger, directory Refresher, userID string) *DirectoryRefreshWorker {
	return &DirectoryRefreshWorker{log: log, directory: directory, userID: userID}
}

func (w *DirectoryRefreshWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.directory.RefreshRequests():
			if err := w.directory.Refresh(ctx, w.userID); err != nil {
				w.log.Debug("Scheduled refresh failed", "user_id", w.userID, "error", err)
			}
		}
	}
}

// MarkReadWorker marks the active conversation read while messages keep
// arriving in it, so the sender's side and the backend stay in sync.
type MarkReadWorker struct {
	log      *slog.Logger
	marker   ReadMarker
	requests <-chan string
	userID   string
	timeout  time.Duration
}

func NewMarkReadWorker(log *slog.Logger, marker ReadMarker, requests <-chan string, userID string, timeout time.Duration) *MarkReadWorker {
	return &MarkReadWorker{log: log, marker: marker, requests: requests, userID: userID, timeout: timeout}
}

func (w *MarkReadWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case conversationID, ok := <-w.requests:
			if !ok {
				return nil
			}
			w.markRead(ctx, conversationID)
		}
	}
}

func (w *MarkReadWorker) markRead(ctx context.Context, conversationID string) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.marker.MarkRead(ctx, conversationID, w.userID); err != nil {
		w.log.Warn("Background mark read failed", "conversation_id", conversationID, "error", err)
	}
}
