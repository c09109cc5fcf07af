package events

import (
	"io"
	"log/slog"
	"testing"

	"github.com/gookit/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
)

func TestStatusChangedEventDelivery(t *testing.T) {
	bus := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var received []ServerStatusChangedEvent
	bus.Subscribe(EventServerStatusChanged, func(e event.Event) error {
		payload, ok := Payload[ServerStatusChangedEvent](e)
		require.True(t, ok)
		received = append(received, payload)
		return nil
	})

	err := bus.PublishStatusChanged("srv-1", "hetzner", server.StatusConfiguring, server.StatusActive, "")
	require.NoError(t, err)

	require.Len(t, received, 1)
	assert.Equal(t, "srv-1", received[0].ServerID)
	assert.Equal(t, server.StatusConfiguring, received[0].From)
	assert.Equal(t, server.StatusActive, received[0].To)
}

func TestPeerEventDelivery(t *testing.T) {
	bus := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var got PeerEvent
	bus.Subscribe(EventPeerAdded, func(e event.Event) error {
		got, _ = Payload[PeerEvent](e)
		return nil
	})

	require.NoError(t, bus.PublishPeerEvent(EventPeerAdded, "srv-1", "peer-1", "alice"))
	assert.Equal(t, "alice", got.PeerName)
	assert.Equal(t, "srv-1", got.ServerID)
}
