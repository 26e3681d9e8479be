// Package notify delivers per-user messages. Delivery is fire-and-forget:
// failures are logged and counted, never returned to the caller.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/local/notesync/internal/directory"
	"github.com/local/notesync/internal/metrics"
)

// Notification is one message for one user.
type Notification struct {
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	RelatedID string `json:"related_id,omitempty"`
}

// Recorder persists notifications so users can list them later.
type Recorder interface {
	CreateNotification(ctx context.Context, n *directory.Notification) error
}

// Publisher fans an encoded event out to a live channel.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
}

type event struct {
	Source       string       `json:"source"`
	ID           uint         `json:"id,omitempty"`
	Notification Notification `json:"notification"`
	SentAt       time.Time    `json:"sent_at"`
}

type Sink struct {
	recorder   Recorder
	publishers []Publisher
	logger     zerolog.Logger
	nodeID     string
	now        func() time.Time
}

func NewSink(recorder Recorder, logger zerolog.Logger, publishers ...Publisher) *Sink {
	return &Sink{
		recorder:   recorder,
		publishers: publishers,
		logger:     logger.With().Str("component", "notify").Logger(),
		nodeID:     uuid.NewString(),
		now:        time.Now,
	}
}

// Enqueue stores the notification and publishes it. It never fails the caller.
func (s *Sink) Enqueue(ctx context.Context, n Notification) {
	if n.UserID == "" || n.Message == "" {
		s.logger.Warn().Str("user_id", n.UserID).Msg("dropping empty notification")
		return
	}
	row := &directory.Notification{UserID: n.UserID, Type: n.Type, Message: n.Message, RelatedID: n.RelatedID}
	if s.recorder != nil {
		if err := s.recorder.CreateNotification(ctx, row); err != nil {
			metrics.IncNotification("db", "error")
			s.logger.Error().Err(err).Str("user_id", n.UserID).Msg("failed to store notification")
		} else {
			metrics.IncNotification("db", "ok")
		}
	}
	if len(s.publishers) == 0 {
		return
	}
	payload, err := json.Marshal(event{Source: s.nodeID, ID: row.ID, Notification: n, SentAt: s.now().UTC()})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode notification event")
		return
	}
	for _, p := range s.publishers {
		if err := p.Publish(ctx, payload); err != nil {
			metrics.IncNotification(p.Name(), "error")
			s.logger.Warn().Err(err).Str("sink", p.Name()).Str("user_id", n.UserID).Msg("failed to publish notification")
			continue
		}
		metrics.IncNotification(p.Name(), "ok")
	}
}

// EvaluationMessage tells an uploader their notes were scored.
func EvaluationMessage(week int, score float64) string {
	return fmt.Sprintf("Notes evaluated! Your week %d notes scored %.2f.", week, score)
}

// UploadMessage tells classmates that someone uploaded notes.
func UploadMessage(courseName string, week int, uploaderName string) string {
	return fmt.Sprintf("%s week %d PDF notes uploaded - %s uploaded notes.", courseName, week, uploaderName)
}
