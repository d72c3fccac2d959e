package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// DefaultMQTTTopic is the shared topic all bus participants use.
const DefaultMQTTTopic = "pbus/bus"

// MQTTConfig configures an MQTTLink.
type MQTTConfig struct {
	// BrokerURL is the broker address, e.g. "tcp://127.0.0.1:1883".
	BrokerURL string

	// Topic is the shared bus topic (default DefaultMQTTTopic).
	Topic string

	// ClientID identifies this client to the broker (default derived
	// from the link's random ID).
	ClientID string

	// QueueLen bounds the inbound queue (default DefaultQueueLen).
	QueueLen int
}

// MQTTLink carries chunks over an MQTT broker. All participants publish
// and subscribe on one shared topic at QoS 0, so the broker behaves
// like the hostile broadcast wire. Published payloads are prefixed with
// the link's random 16-byte ID; the prefix is stripped on receipt and
// used only to drop local echo.
type MQTTLink struct {
	client paho.Client
	topic  string
	id     uuid.UUID

	inbox chan []byte

	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// DialMQTT connects a link to the broker and subscribes to the shared
// topic. It returns once the subscription is live; auto-reconnect
// resubscribes after broker outages.
func DialMQTT(config MQTTConfig) (*MQTTLink, error) {
	if config.BrokerURL == "" {
		return nil, fmt.Errorf("bus: mqtt broker URL is required")
	}
	if config.Topic == "" {
		config.Topic = DefaultMQTTTopic
	}
	id := uuid.New()
	if config.ClientID == "" {
		config.ClientID = "pbus-" + id.String()
	}
	queueLen := config.QueueLen
	if queueLen <= 0 {
		queueLen = DefaultQueueLen
	}

	l := &MQTTLink{
		topic: config.Topic,
		id:    id,
		inbox: make(chan []byte, queueLen),
		done:  make(chan struct{}),
	}

	opts := paho.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetAutoReconnect(true).
		SetCleanSession(true)
	opts.SetClientID(config.ClientID)
	opts.SetOnConnectHandler(func(c paho.Client) {
		c.Subscribe(l.topic, 0, l.onMessage)
	})

	l.client = paho.NewClient(opts)

	token := l.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("bus: mqtt connect: %w", err)
	}

	sub := l.client.Subscribe(l.topic, 0, l.onMessage)
	sub.Wait()
	if err := sub.Error(); err != nil {
		l.client.Disconnect(0)
		return nil, fmt.Errorf("bus: mqtt subscribe: %w", err)
	}

	return l, nil
}

// onMessage queues an inbound publication, dropping local echo and
// payloads too short to carry a sender prefix.
func (l *MQTTLink) onMessage(_ paho.Client, msg paho.Message) {
	payload := msg.Payload()
	if len(payload) <= len(l.id) {
		return
	}

	var sender uuid.UUID
	copy(sender[:], payload[:len(sender)])
	if sender == l.id {
		return
	}

	data := make([]byte, len(payload)-len(sender))
	copy(data, payload[len(sender):])

	select {
	case l.inbox <- data:
	default:
		l.dropped.Add(1)
	}
}

// Send publishes the chunk on the shared topic at QoS 0.
func (l *MQTTLink) Send(data []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	payload := make([]byte, 0, len(l.id)+len(data))
	payload = append(payload, l.id[:]...)
	payload = append(payload, data...)

	token := l.client.Publish(l.topic, 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("bus: mqtt publish: %w", err)
	}
	return nil
}

// Recv returns the next pending chunk. Queued chunks drain even after
// Close; once empty a closed link reports ErrClosed.
func (l *MQTTLink) Recv() ([]byte, error) {
	select {
	case data := <-l.inbox:
		return data, nil
	default:
	}

	select {
	case <-l.done:
		return nil, ErrClosed
	default:
	}
	return nil, ErrNoData
}

// Close disconnects from the broker.
func (l *MQTTLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.client.Disconnect(0)
	})
	return nil
}

// Dropped reports how many inbound chunks were discarded because this
// link's queue was full.
func (l *MQTTLink) Dropped() uint64 {
	return l.dropped.Load()
}
