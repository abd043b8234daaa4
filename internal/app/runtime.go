package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"graphauth/go-backend/internal/platform/privacylog"
	"graphauth/go-backend/pkg/models"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// NotificationHub fans lifecycle events out to subscribers and keeps a
// bounded replay history. A subscriber that falls behind is dropped.
type NotificationHub struct {
	mu      sync.Mutex
	nextSeq int64
	limit   int
	history []models.NotificationEvent
	subs    map[int]chan models.NotificationEvent
	nextSub int
}

func NewNotificationHub(limit int) *NotificationHub {
	if limit < 1 {
		limit = 1
	}
	return &NotificationHub{
		limit: limit,
		subs:  make(map[int]chan models.NotificationEvent),
	}
}

func (h *NotificationHub) Publish(method string, payload any) models.NotificationEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	event := models.NotificationEvent{
		Seq:       h.nextSeq,
		Method:    method,
		Payload:   payload,
		Timestamp: nowUTC(),
	}
	h.history = append(h.history, event)
	if len(h.history) > h.limit {
		h.history = append([]models.NotificationEvent(nil), h.history[len(h.history)-h.limit:]...)
	}

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}
	return event
}

// Subscribe returns the retained events after fromSeq and a live channel.
// The returned cancel func is idempotent.
func (h *NotificationHub) Subscribe(fromSeq int64) ([]models.NotificationEvent, <-chan models.NotificationEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	replay := make([]models.NotificationEvent, 0)
	for _, event := range h.history {
		if event.Seq > fromSeq {
			replay = append(replay, event)
		}
	}

	id := h.nextSub
	h.nextSub++
	ch := make(chan models.NotificationEvent, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			close(sub)
			delete(h.subs, id)
		}
	}
	return replay, ch, cancel
}

func (h *NotificationHub) BacklogSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history)
}

// DefaultLogger is the JSON logger used by the daemon and CLI. Every record
// goes through privacylog, so credentials are redacted and account
// identifiers are fingerprinted.
func DefaultLogger() *slog.Logger {
	return NewLogger(os.Stderr, os.Getenv("GRAPHAUTH_LOG_LEVEL"))
}

func NewLogger(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLogLevel(level)})
	return slog.New(privacylog.WrapHandler(handler))
}

func ParseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
