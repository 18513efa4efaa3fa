package backend

import (
	"context"
	"sync"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/ingress"
)

// Connector opens and closes the platform chat connection. Implementations
// publish chat-event payloads while connected.
type Connector interface {
	Connect(ctx context.Context, channelID string) error
	Disconnect(ctx context.Context) error
}

// SimulatedConnector stands in for the platform client. It announces the
// connection on the chat-event channel and republishes injected events.
type SimulatedConnector struct {
	pub ingress.Publisher

	mu        sync.Mutex
	channelID string
	connected bool
	failWith  error
}

func NewSimulatedConnector(pub ingress.Publisher) *SimulatedConnector {
	return &SimulatedConnector{pub: pub}
}

// FailConnect makes subsequent Connect calls return err. nil restores
// success.
func (c *SimulatedConnector) FailConnect(err error) {
	c.mu.Lock()
	c.failWith = err
	c.mu.Unlock()
}

func (c *SimulatedConnector) Connect(ctx context.Context, channelID string) error {
	c.mu.Lock()
	if err := c.failWith; err != nil {
		c.mu.Unlock()
		return err
	}
	c.channelID = channelID
	c.connected = true
	c.mu.Unlock()
	return c.publish(ctx, core.ChatEvent{Type: core.EventConnected})
}

func (c *SimulatedConnector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	was := c.connected
	c.connected = false
	c.mu.Unlock()
	if !was {
		return nil
	}
	return c.publish(ctx, core.ChatEvent{Type: core.EventDisconnected})
}

// Inject publishes ev as if it arrived from the platform.
func (c *SimulatedConnector) Inject(ctx context.Context, ev core.ChatEvent) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return c.publish(ctx, ev)
}

func (c *SimulatedConnector) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

func (c *SimulatedConnector) publish(ctx context.Context, ev core.ChatEvent) error {
	payload, err := core.EncodeChatEvent(ev)
	if err != nil {
		return err
	}
	return c.pub.Publish(ctx, core.ChannelChatEvent, payload)
}
