package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/events"
	"github.com/avstrong/hostel/internal/logger"
)

func TestEncodeEnvelope(t *testing.T) {
	at := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)
	h := &booking.Hold{ID: "hold-1", SetID: "set-1", RoomID: "M7", BedsCount: 3, Status: booking.HoldConfirmed, Outcome: "pay-1"}

	body, err := events.Encode(events.NewHoldEvent(events.HoldConfirmed, h, at))
	require.NoError(t, err)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	require.Equal(t, events.HoldConfirmed, env.Type)

	var got events.HoldEvent
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	require.Equal(t, "hold-1", got.HoldID)
	require.Equal(t, "pay-1", got.Outcome)
	require.Equal(t, at, got.At)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer

	p := events.NewLogPublisher(logger.New(&buf, "info"))
	h := &booking.Hold{ID: "hold-7", RoomID: "F7", BedsCount: 2}

	require.NoError(t, p.Publish(context.Background(), events.NewHoldEvent(events.HoldExpired, h, time.Now())))
	require.Contains(t, buf.String(), "HoldExpired")
	require.Contains(t, buf.String(), "hold-7")
}
