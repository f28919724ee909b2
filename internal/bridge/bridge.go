package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/gestalyze/internal/bus"
	"github.com/ayusman/gestalyze/internal/logger"
	"github.com/ayusman/gestalyze/internal/metrics"
)

// Sender delivers state updates and events to the remote session. *Client satisfies it.
type Sender interface {
	CallService(ctx context.Context, data any) error
	FireEvent(ctx context.Context, eventType string, data any) error
	Close() error
}

// Subscriber is the part of an MQTT client the bridge needs. mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// State is the service_data of a set_gesture_state call.
type State struct {
	Hand        string `json:"hand"`
	Orientation string `json:"orientation"`
	// Fingers is the comma-joined finger index list, e.g. "0,1,2".
	Fingers string `json:"fingers"`
	// ExtendedFingers carries the same list under the bus field name.
	ExtendedFingers string `json:"extended_fingers"`
	FingerCount     int    `json:"finger_count"`
	ASLLetter       string `json:"asl_letter,omitempty"`
}

// GestureData is the event_data of a gestalyze_gesture_recognized event.
type GestureData struct {
	Gesture    string  `json:"gesture"`
	Confidence float64 `json:"confidence"`
	State
}

// Message is one bus message waiting for delivery.
type Message struct {
	EventType string
	State     State
	Event     any
}

// incoming accepts finger indices encoded as floats, as some publishers send them.
type incoming struct {
	Gesture         string    `json:"gesture"`
	Confidence      float64   `json:"confidence"`
	Hand            string    `json:"hand"`
	Orientation     string    `json:"orientation"`
	ExtendedFingers []float64 `json:"extended_fingers"`
}

// JoinFingers formats finger indices as a comma-joined list.
func JoinFingers(fingers []int) string {
	parts := make([]string, len(fingers))
	for i, f := range fingers {
		parts[i] = strconv.Itoa(f)
	}
	return strings.Join(parts, ",")
}

func newState(in incoming) State {
	fingers := make([]int, len(in.ExtendedFingers))
	for i, f := range in.ExtendedFingers {
		fingers[i] = int(f)
	}
	joined := JoinFingers(fingers)
	return State{
		Hand:            in.Hand,
		Orientation:     in.Orientation,
		Fingers:         joined,
		ExtendedFingers: joined,
		FingerCount:     len(fingers),
	}
}

// Decode converts a bus message into the remote state update and event.
func Decode(topics bus.Topics, topic string, payload []byte) (Message, error) {
	var in incoming
	if err := json.Unmarshal(payload, &in); err != nil {
		return Message{}, fmt.Errorf("decode %s payload: %w", topic, err)
	}

	state := newState(in)
	switch topic {
	case topics.Gesture:
		state.ASLLetter = in.Gesture
		return Message{
			EventType: EventGesture,
			State:     state,
			Event: GestureData{
				Gesture:    in.Gesture,
				Confidence: in.Confidence,
				State:      state,
			},
		}, nil
	case topics.HandStatus:
		return Message{EventType: EventHandStatus, State: state, Event: state}, nil
	default:
		return Message{}, fmt.Errorf("unexpected topic %q", topic)
	}
}

// Bridge mirrors bus messages into the remote session. Messages queue up in a
// bounded buffer drained by a single worker, which owns the Sender.
type Bridge struct {
	sender  Sender
	topics  bus.Topics
	queue   chan Message
	metrics *metrics.Metrics
}

// New creates a bridge with the given queue capacity.
func New(sender Sender, topics bus.Topics, queueSize int, m *metrics.Metrics) *Bridge {
	if queueSize < 1 {
		queueSize = 1
	}
	if m == nil {
		m = metrics.New()
	}
	return &Bridge{
		sender:  sender,
		topics:  topics,
		queue:   make(chan Message, queueSize),
		metrics: m,
	}
}

// Subscribe subscribes to both event topics. Call it again after a broker reconnect.
func (b *Bridge) Subscribe(s Subscriber, timeout time.Duration) error {
	for _, topic := range []string{b.topics.Gesture, b.topics.HandStatus} {
		token := s.Subscribe(topic, 0, b.HandleMessage)
		if !token.WaitTimeout(timeout) {
			return fmt.Errorf("subscribe %s: timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		logger.Info("Bridge", "subscribed to %s", topic)
	}
	return nil
}

// HandleMessage is the MQTT callback. It never blocks.
func (b *Bridge) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	m, err := Decode(b.topics, msg.Topic(), msg.Payload())
	if err != nil {
		logger.Error("Bridge", "%v", err)
		return
	}
	b.Enqueue(m)
}

// Enqueue adds a message to the queue, dropping it when the queue is full.
func (b *Bridge) Enqueue(m Message) bool {
	select {
	case b.queue <- m:
		return true
	default:
		b.metrics.BridgeQueueDrops.Add(1)
		logger.Error("Bridge", "queue full, dropping %s", m.EventType)
		return false
	}
}

// Run delivers queued messages until ctx is done. It returns early only when
// the remote session rejects authentication.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.sender.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-b.queue:
			if err := b.deliver(ctx, m); err != nil {
				if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrUnexpectedHandshake) {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		}
	}
}

func (b *Bridge) deliver(ctx context.Context, m Message) error {
	if err := b.sender.CallService(ctx, m.State); err != nil {
		logger.Error("Bridge", "update state for %s: %v", m.EventType, err)
		return err
	}
	if err := b.sender.FireEvent(ctx, m.EventType, m.Event); err != nil {
		logger.Error("Bridge", "fire %s: %v", m.EventType, err)
		return err
	}
	b.metrics.BridgeDelivered.Add(1)
	logger.Debug("Bridge", "delivered %s (%s)", m.EventType, m.State.Fingers)
	return nil
}
