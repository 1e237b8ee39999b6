package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"road-data-service/internal/model"
	"road-data-service/internal/store"
)

var ErrNotAReadingTopic = errors.New("not a reading topic")

// Broadcaster is the fan-out half of the realtime hub.
type Broadcaster interface {
	Broadcast(userID int64, payload any)
}

// Ingestor consumes processed readings that agents publish on the broker and
// runs them through the same validate/store/broadcast path as an HTTP create.
type Ingestor struct {
	Repo         *store.Repo
	Hub          Broadcaster
	TopicPrefix  string
	AllowRetains bool
}

type MQTTMessage interface {
	Topic() string
	Payload() []byte
	Retained() bool
}

func (i *Ingestor) HandleMessage(ctx context.Context, msg MQTTMessage) {
	topic := msg.Topic()
	if msg.Retained() && !i.AllowRetains {
		slog.Debug("ingest ignoring retained reading", "topic", topic)
		return
	}

	agentID, err := ParseAgentID(i.TopicPrefix, topic)
	if err != nil {
		if errors.Is(err, ErrNotAReadingTopic) {
			return
		}
		slog.Warn("ingest topic parse failed", "topic", topic, "error", err)
		return
	}

	var reading model.ProcessedAgentData
	if err := json.Unmarshal(msg.Payload(), &reading); err != nil {
		slog.Warn("ingest invalid json", "topic", topic, "agent_id", agentID)
		return
	}
	if err := reading.Validate(); err != nil {
		slog.Warn("ingest rejected reading", "topic", topic, "agent_id", agentID, "error", err)
		return
	}

	rec := store.NewRecord(&reading)
	if err := i.Repo.Create(ctx, rec); err != nil {
		slog.Error("ingest db insert failed", "topic", topic, "agent_id", agentID, "error", err)
		return
	}
	if i.Hub != nil {
		i.Hub.Broadcast(rec.UserID, rec)
	}
	slog.Debug("reading stored", "agent_id", agentID, "id", rec.ID, "user_id", rec.UserID)
}

func ParseAgentID(prefix, topic string) (string, error) {
	if prefix == "" {
		prefix = "road/processed/"
	}
	if !strings.HasPrefix(topic, prefix) {
		return "", ErrNotAReadingTopic
	}
	id := strings.Trim(strings.TrimPrefix(topic, prefix), "/")
	if id == "" {
		return "", errors.New("empty agent id")
	}
	return id, nil
}
