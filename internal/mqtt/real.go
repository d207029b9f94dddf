package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// DefaultBufferSize is the number of messages held while the broker is down.
const DefaultBufferSize = 300

const publishTimeout = 5 * time.Second

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BufferSize int
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	logger *zap.Logger

	mu        sync.Mutex
	out       *outbox
	connected bool // at least one successful connection
}

// NewRealPublisher creates a publisher for the given broker. It does not wait
// for the connection: the paho client keeps retrying in the background.
func NewRealPublisher(opts Options, logger *zap.Logger) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}
	if opts.ClientID == "" {
		opts.ClientID = "flow-sensor"
	}
	if opts.Topics == (Topics{}) {
		opts.Topics = NewTopics("")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	p := newPublisher(nil, opts.Topics, opts.BufferSize, logger)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(opts.Topics.System, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt connection lost", zap.Error(err))
		})

	p.client = paho.NewClient(clientOpts)
	p.client.Connect()
	return p, nil
}

func newPublisher(client paho.Client, topics Topics, limit int, logger *zap.Logger) *RealPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealPublisher{
		client: client,
		topics: topics,
		logger: logger,
		out:    newOutbox(limit),
	}
}

// PublishSample sends a flow sample (QoS 0, not retained).
func (p *RealPublisher) PublishSample(event SampleEvent) error {
	payload, err := FormatSamplePayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(p.topics.Readings, 0, false, payload)
}

// PublishSystem sends a system lifecycle event (QoS 1).
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		if first := p.out.add(pending{topic: topic, payload: payload, qos: qos, retained: retained}); first {
			p.logger.Warn("mqtt outbox full, dropping oldest", zap.Int("limit", p.out.limit))
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// onConnect replays buffered messages and announces reconnection.
func (p *RealPublisher) onConnect(_ paho.Client) {
	p.mu.Lock()
	msgs, dropped := p.out.drain()
	reconnect := p.connected
	p.connected = true
	p.mu.Unlock()

	p.logger.Info("mqtt connected",
		zap.Int("replaying", len(msgs)),
		zap.Int("dropped", dropped),
		zap.Bool("reconnect", reconnect))

	// Handlers must not block on tokens.
	go func() {
		for _, m := range msgs {
			p.client.Publish(m.topic, m.qos, m.retained, m.payload)
		}
		if reconnect {
			if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
				p.logger.Warn("publish reconnected event", zap.Error(err))
			}
		}
	}()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.len()
}

// IsConnected reports whether the broker connection is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
