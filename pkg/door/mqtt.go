package door

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/config"
)

const mqttConnectTimeout = 10 * time.Second

// Subscriber consumes door reports published by MQTT sensors on
// <prefix>/<room id>/door. The payload is {"closed": bool} or one of the
// literals "open" and "close".
type Subscriber struct {
	client mqtt.Client
	rec    *Recorder
	prefix string
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber configures (but does not connect) an MQTT subscriber.
func NewSubscriber(cfg config.MQTTConfig, rec *Recorder, logger *zap.Logger) *Subscriber {
	s := &Subscriber{
		rec:    rec,
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		logger: logger.Named("mqtt"),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			// subscriptions do not survive a reconnect with a clean session
			s.subscribe(c)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	s.client = mqtt.NewClient(opts)
	return s
}

// Topic is the subscription filter.
func (s *Subscriber) Topic() string {
	return s.prefix + "/+/door"
}

// Start connects to the broker. Messages are handled until Stop or until
// ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	token := s.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		// SetConnectRetry keeps trying in the background
		s.logger.Warn("mqtt broker not reachable yet, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	return nil
}

func (s *Subscriber) subscribe(c mqtt.Client) {
	token := c.Subscribe(s.Topic(), 1, func(_ mqtt.Client, msg mqtt.Message) {
		s.handle(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		s.logger.Error("mqtt subscribe failed", zap.String("topic", s.Topic()), zap.Error(token.Error()))
		return
	}
	s.logger.Info("mqtt subscribed", zap.String("topic", s.Topic()))
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) handle(topic string, payload []byte) {
	id, closed, err := parseMessage(s.prefix, topic, payload)
	if err != nil {
		s.logger.Warn("ignoring mqtt message", zap.String("topic", topic), zap.Error(err))
		return
	}

	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, config.RecordTimeout)
	defer cancel()

	res, err := s.rec.Record(ctx, id, closed)
	if err != nil {
		s.logger.Error("failed to record door event", zap.String("entity", id), zap.Error(err))
		return
	}
	if !res.Success {
		s.logger.Debug("mqtt door event rejected", zap.String("entity", id), zap.String("reason", string(res.Reason)))
	}
}

// parseMessage extracts the room id from topic and the door state from
// payload.
func parseMessage(prefix, topic string, payload []byte) (string, bool, error) {
	rest := strings.TrimPrefix(topic, prefix+"/")
	if rest == topic {
		return "", false, fmt.Errorf("topic %q outside %q", topic, prefix)
	}
	id, suffix, ok := strings.Cut(rest, "/")
	if !ok || suffix != "door" || id == "" {
		return "", false, fmt.Errorf("topic %q is not <prefix>/<id>/door", topic)
	}

	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "open", "opened":
		return id, false, nil
	case "close", "closed":
		return id, true, nil
	}

	var body struct {
		Closed *bool `json:"closed"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", false, fmt.Errorf("decode payload: %w", err)
	}
	if body.Closed == nil {
		return "", false, errors.New("payload has no closed field")
	}
	return id, *body.Closed, nil
}
