package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/logger"
)

type HoldEventType string

const (
	HoldCreated   HoldEventType = "HoldCreated"
	HoldConfirmed HoldEventType = "HoldConfirmed"
	HoldReleased  HoldEventType = "HoldReleased"
	HoldExpired   HoldEventType = "HoldExpired"
)

type HoldEvent struct {
	Type      HoldEventType      `json:"type"`
	HoldID    string             `json:"hold_id"`
	SetID     string             `json:"set_id"`
	RoomID    string             `json:"room_id"`
	BedsCount int                `json:"beds_count"`
	DateRange booking.DateRange  `json:"date_range"`
	Status    booking.HoldStatus `json:"status"`
	Outcome   string             `json:"outcome,omitempty"`
	At        time.Time          `json:"at"`
}

func NewHoldEvent(t HoldEventType, h *booking.Hold, at time.Time) HoldEvent {
	return HoldEvent{
		Type:      t,
		HoldID:    h.ID,
		SetID:     h.SetID,
		RoomID:    h.RoomID,
		BedsCount: h.BedsCount,
		DateRange: h.DateRange,
		Status:    h.Status,
		Outcome:   h.Outcome,
		At:        at,
	}
}

// Envelope is the wire shape consumers read off the queue.
type Envelope struct {
	Type    HoldEventType   `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func Encode(e HoldEvent) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %v payload: %w", e.Type, err)
	}

	body, err := json.Marshal(Envelope{Type: e.Type, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %v envelope: %w", e.Type, err)
	}

	return body, nil
}

type LogPublisher struct {
	l *logger.Logger
}

func NewLogPublisher(l *logger.Logger) *LogPublisher {
	return &LogPublisher{l: l}
}

func (p *LogPublisher) Publish(_ context.Context, e HoldEvent) error {
	p.l.LogInfo(
		"type: event, event: %s, hold: %s, set: %s, room: %s, beds: %d, range: %v",
		e.Type, e.HoldID, e.SetID, e.RoomID, e.BedsCount, e.DateRange,
	)

	return nil
}
