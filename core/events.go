package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventSellerLevelUp EventType = "seller_level_up"
	EventDigestSent    EventType = "digest_sent"
	EventDigestFailed  EventType = "digest_failed"
	EventJobFinished   EventType = "job_finished"
)

// Event represents an immutable domain event.
type Event struct {
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	UserID   UserID         `json:"user_id,omitempty"`
	From     SellerLevel    `json:"from,omitempty"`
	To       SellerLevel    `json:"to,omitempty"`
	Stats    *SellerStats   `json:"stats,omitempty"`
	Job      string         `json:"job,omitempty"`
	RunID    string         `json:"run_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewLevelUp carries the transition; name and email travel in Metadata.
func NewLevelUp(t Transition, runID string) Event {
	stats := t.Stats
	md := map[string]any{}
	if t.Name != "" {
		md["name"] = t.Name
	}
	if t.Email != "" {
		md["email"] = t.Email
	}
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Event{
		Type:     EventSellerLevelUp,
		Time:     at,
		UserID:   t.UserID,
		From:     t.From,
		To:       t.To,
		Stats:    &stats,
		RunID:    runID,
		Metadata: md,
	}
}

func NewDigestSent(user UserID, runID string) Event {
	return Event{Type: EventDigestSent, Time: time.Now().UTC(), UserID: user, RunID: runID}
}

func NewDigestFailed(user UserID, runID string, err error) Event {
	return Event{Type: EventDigestFailed, Time: time.Now().UTC(), UserID: user, RunID: runID,
		Metadata: map[string]any{"error": err.Error()}}
}

func NewJobFinished(job, runID string, metadata map[string]any) Event {
	return Event{Type: EventJobFinished, Time: time.Now().UTC(), Job: job, RunID: runID, Metadata: metadata}
}

// MetadataString returns a string metadata value or "".
func (e Event) MetadataString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[key].(string)
	return s
}
