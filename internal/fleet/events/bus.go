package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gookit/event"

	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
)

// Bus wraps the gookit event manager for fleet lifecycle events.
type Bus struct {
	bus    *event.Manager
	logger *slog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		bus:    event.NewManager("fleet"),
		logger: logger,
	}
}

// Subscribe registers a listener for an event type.
func (b *Bus) Subscribe(eventName string, fn func(e event.Event) error) {
	b.bus.On(eventName, event.ListenerFunc(fn))
}

// PublishStatusChanged publishes a lifecycle transition.
func (b *Bus) PublishStatusChanged(serverID, providerName string, from, to server.Status, cause string) error {
	payload := ServerStatusChangedEvent{
		ServerID:  serverID,
		Provider:  providerName,
		From:      from,
		To:        to,
		Cause:     cause,
		Timestamp: time.Now(),
	}

	b.logger.Debug("publishing status change event",
		slog.String("server_id", serverID),
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	return b.fire(EventServerStatusChanged, payload)
}

// PublishServerEvent publishes a milestone event for a server.
func (b *Bus) PublishServerEvent(eventName, serverID, providerName, publicIP string) error {
	payload := ServerEvent{
		ServerID:  serverID,
		Provider:  providerName,
		PublicIP:  publicIP,
		Timestamp: time.Now(),
	}
	return b.fire(eventName, payload)
}

// PublishPeerEvent publishes a peer addition or removal.
func (b *Bus) PublishPeerEvent(eventName, serverID, peerID, peerName string) error {
	payload := PeerEvent{
		ServerID:  serverID,
		PeerID:    peerID,
		PeerName:  peerName,
		Timestamp: time.Now(),
	}
	return b.fire(eventName, payload)
}

func (b *Bus) fire(eventName string, payload any) error {
	err, _ := b.bus.Fire(eventName, event.M{"payload": payload})
	if err != nil {
		b.logger.Error("failed to publish event",
			slog.String("event", eventName),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to publish %s: %w", eventName, err)
	}
	return nil
}

// Payload extracts the typed payload from a fired event.
func Payload[T any](e event.Event) (T, bool) {
	v, ok := e.Get("payload").(T)
	return v, ok
}
