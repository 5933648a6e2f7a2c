package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/nugget/tollgate/internal/config"
	"github.com/nugget/tollgate/internal/events"
)

// Forwarder subscribes to the event bus and republishes every event as
// JSON under the configured topic prefix. Token totals from model
// responses are accumulated and published as a retained counter.
type Forwarder struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	tokens *DailyTokens
	logger *slog.Logger

	mu sync.Mutex
	cm *autopaho.ConnectionManager
}

// New creates a Forwarder but does not connect. Call [Forwarder.Start]
// to begin forwarding.
func New(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "tollgate"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "tollgate-" + uuid.NewString()[:8]
	}
	return &Forwarder{
		cfg:    cfg,
		bus:    bus,
		tokens: NewDailyTokens(nil),
		logger: logger.With("component", "mqtt"),
	}
}

// Start connects to the broker and forwards events until ctx is
// cancelled.
func (f *Forwarder) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(f.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: f.cfg.Username,
		ConnectPassword: []byte(f.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   f.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			f.logger.Info("mqtt connected to broker", "broker", f.cfg.Broker)
			f.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			f.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: f.cfg.ClientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	f.mu.Lock()
	f.cm = cm
	f.mu.Unlock()

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		f.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	ch := f.bus.Subscribe(128)
	defer f.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			f.forward(ctx, cm, e)
		}
	}
}

// Stop publishes "offline" and disconnects.
func (f *Forwarder) Stop(ctx context.Context) error {
	f.mu.Lock()
	cm := f.cm
	f.mu.Unlock()
	if cm == nil {
		return nil
	}
	f.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

func (f *Forwarder) forward(ctx context.Context, cm *autopaho.ConnectionManager, e events.Event) {
	f.record(e)

	payload, err := json.Marshal(e)
	if err != nil {
		f.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   f.eventTopic(e),
		Payload: payload,
		QoS:     0,
	}); err != nil {
		f.logger.Debug("mqtt event publish failed", "kind", e.Kind, "error", err)
	}

	if e.Kind == events.KindRequestComplete {
		input, output, requests := f.tokens.Snapshot()
		stats, _ := json.Marshal(map[string]int64{
			"input_tokens":  input,
			"output_tokens": output,
			"requests":      requests,
		})
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   f.cfg.TopicPrefix + "/tokens_today",
			Payload: stats,
			QoS:     0,
			Retain:  true,
		}); err != nil {
			f.logger.Debug("mqtt token publish failed", "error", err)
		}
	}
}

// record feeds token counts from model responses into the daily totals.
func (f *Forwarder) record(e events.Event) {
	if e.Kind != events.KindLLMResponse {
		return
	}
	f.tokens.OnTokens(intValue(e.Data["tokens_in"]), intValue(e.Data["tokens_out"]))
}

func (f *Forwarder) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   f.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		f.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	f.logger.Info("mqtt availability published", "status", status)
}

func (f *Forwarder) availabilityTopic() string {
	return f.cfg.TopicPrefix + "/availability"
}

// eventTopic is <prefix>/events/<source>/<kind>.
func (f *Forwarder) eventTopic(e events.Event) string {
	parts := []string{f.cfg.TopicPrefix, "events", topicSegment(e.Source), topicSegment(e.Kind)}
	return strings.Join(parts, "/")
}

// topicSegment strips MQTT wildcard and separator characters.
func topicSegment(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
