// Package bus publishes stable gesture events to the MQTT broker.
package bus

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/gestalyze/internal/clock"
	"github.com/ayusman/gestalyze/internal/gesture"
	"github.com/ayusman/gestalyze/internal/logger"
	"github.com/ayusman/gestalyze/internal/metrics"
)

// Conn is the part of an MQTT client the publisher needs.
// mqtt.Client satisfies it.
type Conn interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Topics are the two event topics under one namespace.
type Topics struct {
	Gesture    string
	HandStatus string
}

// TopicsFor returns the topics for a namespace.
func TopicsFor(namespace string) Topics {
	return Topics{
		Gesture:    namespace + "/gesture/recognized",
		HandStatus: namespace + "/hand/status",
	}
}

// TimestampFormat is the UTC ISO-8601 layout of payload timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000000Z07:00"

// GesturePayload is published on the gesture topic.
type GesturePayload struct {
	Timestamp       string  `json:"timestamp"`
	Gesture         string  `json:"gesture"`
	Confidence      float64 `json:"confidence"`
	Hand            string  `json:"hand"`
	Orientation     string  `json:"orientation"`
	ExtendedFingers []int   `json:"extended_fingers"`
}

// HandStatusPayload is published on the hand status topic. A reset has empty
// hand and orientation and no fingers.
type HandStatusPayload struct {
	Timestamp       string `json:"timestamp"`
	Hand            string `json:"hand"`
	Orientation     string `json:"orientation"`
	ExtendedFingers []int  `json:"extended_fingers"`
}

// Publisher sends events to the broker without ever blocking the caller.
// It is safe for concurrent use.
type Publisher struct {
	conn    Conn
	topics  Topics
	clock   clock.Clock
	metrics *metrics.Metrics
}

// NewPublisher creates a publisher on the given connection.
func NewPublisher(conn Conn, namespace string, clk clock.Clock, m *metrics.Metrics) *Publisher {
	if clk == nil {
		clk = clock.Real{}
	}
	if m == nil {
		m = metrics.New()
	}
	return &Publisher{
		conn:    conn,
		topics:  TopicsFor(namespace),
		clock:   clk,
		metrics: m,
	}
}

// Topics returns the topics this publisher writes to.
func (p *Publisher) Topics() Topics {
	return p.topics
}

// Publish dispatches an event by kind.
func (p *Publisher) Publish(e gesture.Event) {
	switch e.Kind {
	case gesture.Gesture:
		p.PublishGesture(e)
	case gesture.HandStatus:
		p.PublishHandStatus(e)
	case gesture.Reset:
		p.PublishReset()
	}
}

// PublishGesture publishes a recognized letter.
func (p *Publisher) PublishGesture(e gesture.Event) {
	p.send(p.topics.Gesture, GesturePayload{
		Timestamp:       p.timestamp(),
		Gesture:         e.Gesture,
		Confidence:      e.Confidence,
		Hand:            e.Hand,
		Orientation:     e.Orientation,
		ExtendedFingers: fingers(e.Fingers),
	})
}

// PublishHandStatus publishes the stable hand state.
func (p *Publisher) PublishHandStatus(e gesture.Event) {
	p.send(p.topics.HandStatus, HandStatusPayload{
		Timestamp:       p.timestamp(),
		Hand:            e.Hand,
		Orientation:     e.Orientation,
		ExtendedFingers: fingers(e.Fingers),
	})
}

// PublishReset clears downstream hand state.
func (p *Publisher) PublishReset() {
	p.send(p.topics.HandStatus, HandStatusPayload{
		Timestamp:       p.timestamp(),
		ExtendedFingers: []int{},
	})
}

func (p *Publisher) timestamp() string {
	return p.clock.Now().UTC().Format(TimestampFormat)
}

func (p *Publisher) send(topic string, payload any) {
	if !p.conn.IsConnectionOpen() {
		p.metrics.BusDropped.Add(1)
		logger.Warn("Bus", "not connected to broker, dropping message for %s", topic)
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.metrics.BusFailed.Add(1)
		logger.Error("Bus", "encode payload for %s: %v", topic, err)
		return
	}

	token := p.conn.Publish(topic, 0, false, data)
	p.metrics.BusPublished.Add(1)
	logger.Debug("Bus", "published %s: %s", topic, data)

	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			p.metrics.BusFailed.Add(1)
			logger.Error("Bus", "publish to %s failed: %v", topic, err)
		}
	}()
}

func fingers(f []int) []int {
	if f == nil {
		return []int{}
	}
	return f
}

// ParseTimestamp parses a payload timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampFormat, s)
}
