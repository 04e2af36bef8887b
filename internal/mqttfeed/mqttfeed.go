// Package mqttfeed receives sensor samples published to an MQTT topic and
// fans them out to subscribers the same way serialmux does for a serial
// port.
package mqttfeed

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/pedal.report/internal/monitoring"
	"github.com/banshee-data/pedal.report/internal/serialmux"
)

// DefaultTopic is the topic the bike bridge publishes metrics to.
const DefaultTopic = "pedal/metrics"

const (
	subscriberBuffer = 16
	tokenTimeout     = 10 * time.Second
)

// Client is the part of mqtt.Client a Source uses.
type Client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

// Source subscribes to one topic and republishes every payload line.
type Source struct {
	client Client
	topic  string
	qos    byte
	logf   func(format string, v ...interface{})

	mu          sync.Mutex
	subscribers map[string]chan string
	closing     bool
}

// New wraps an already connected client.
func New(client Client, topic string) *Source {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Source{
		client:      client,
		topic:       topic,
		logf:        monitoring.Prefixed("[mqtt] "),
		subscribers: make(map[string]chan string),
	}
}

// Dial connects to broker (e.g. "tcp://localhost:1883") and returns a source
// for topic. The client reconnects on its own after a lost connection.
func Dial(broker, clientID, topic string) (*Source, error) {
	if clientID == "" {
		clientID = "pedal-" + randomID()
	}
	logf := monitoring.Prefixed("[mqtt] ")
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logf("connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(tokenTimeout) {
		return nil, fmt.Errorf("connect to %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", broker, err)
	}
	return New(client, topic), nil
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *Source) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

func (s *Source) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Monitor subscribes to the topic and blocks until ctx is cancelled.
func (s *Source) Monitor(ctx context.Context) error {
	if err := wait(s.client.Subscribe(s.topic, s.qos, s.handleMessage)); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.logf("subscribed to %s", s.topic)

	<-ctx.Done()
	if err := wait(s.client.Unsubscribe(s.topic)); err != nil {
		s.logf("unsubscribe %s: %v", s.topic, err)
	}
	return ctx.Err()
}

func wait(t mqtt.Token) error {
	if !t.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("timed out")
	}
	return t.Error()
}

// handleMessage republishes each non-blank line of the payload. A bridge may
// batch several samples into one message.
func (s *Source) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	for _, line := range bytes.Split(msg.Payload(), []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		for _, ch := range s.subscribers {
			select {
			case ch <- string(line):
			default:
			}
		}
	}
}

// Close disconnects from the broker and closes every subscriber channel.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()

	s.client.Disconnect(250)
	return nil
}

// AttachAdminRoutes serves /debug/tail for the topic's raw payloads.
func (s *Source) AttachAdminRoutes(mux *http.ServeMux) {
	serialmux.AttachTailRoute(mux, s)
}
