// Package broker implements the Broker Gateway (C1): one logical MQTT
// connection, reconnect with bounded backoff, subscribe to raw/config
// topics, publish to enriched/alert/config topics, and a bounded
// drop-oldest fan-out for in-process observers.
//
// Grounded on owl-common/mqtt/client.go for the paho wrapper shape and
// wisefido-sensor-fusion/internal/consumer/stream_consumer.go's
// exponential-backoff reconnect loop, adapted from Redis Streams
// polling to a broker connection's Start/Stop lifecycle.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vitalguard/internal/apperr"
	"vitalguard/internal/config"
	"vitalguard/internal/metrics"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// RawHandler receives the undecoded payload of a raw-vitals message
// that passed the JSON validity check. It returns nothing, so nothing
// it does can tear down the connection.
type RawHandler func(payload []byte)

// ConfigHandler receives the undecoded payload of a config-topic
// message that passed the JSON validity check.
type ConfigHandler func(payload []byte)

// Observer receives a copy of every enriched sample published, via a
// bounded channel. Slow observers have their oldest buffered message
// dropped rather than blocking the publisher (design note C1).
type Observer struct {
	ch chan []byte
}

// C returns the observer's read-only channel.
func (o *Observer) C() <-chan []byte { return o.ch }

// Gateway owns the MQTT connection and topic wiring.
type Gateway struct {
	cfg     config.MQTTConfig
	logger  *zap.Logger
	metrics *metrics.Registry

	mu     sync.Mutex
	client mqtt.Client

	rawHandler    RawHandler
	configHandler ConfigHandler

	obsMu     sync.Mutex
	observers []*Observer

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Gateway. Connect must be called before Subscribe*/Publish*.
func New(cfg config.MQTTConfig, logger *zap.Logger, reg *metrics.Registry) *Gateway {
	return &Gateway{
		cfg:     cfg,
		logger:  logger,
		metrics: reg,
		stopCh:  make(chan struct{}),
	}
}

// OnRaw registers the handler invoked for every message on the raw
// vitals topic. Must be called before Connect.
func (g *Gateway) OnRaw(h RawHandler) { g.rawHandler = h }

// OnConfig registers the handler invoked for every message on the
// config topic. Must be called before Connect.
func (g *Gateway) OnConfig(h ConfigHandler) { g.configHandler = h }

// Subscribe adds an in-process observer of the enriched-vitals
// publish path, for components (e.g. tests, dashboards) that want a
// live copy without going back through the broker.
func (g *Gateway) Subscribe(bufferSize int) *Observer {
	obs := &Observer{ch: make(chan []byte, bufferSize)}
	g.obsMu.Lock()
	g.observers = append(g.observers, obs)
	g.obsMu.Unlock()
	return obs
}

func (g *Gateway) fanOut(payload []byte) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	for _, obs := range g.observers {
		select {
		case obs.ch <- payload:
		default:
			// drop-oldest: make room for the newest sample rather
			// than block the publisher.
			select {
			case <-obs.ch:
			default:
			}
			select {
			case obs.ch <- payload:
			default:
			}
		}
	}
}

// Connect dials the broker and subscribes to the raw and config
// topics, retrying with exponential backoff (1,2,4,...,30s, capped,
// indefinite) until ctx is cancelled.
func (g *Gateway) Connect(ctx context.Context) error {
	clientID := g.cfg.ClientID
	if clientID == "" {
		clientID = "vitalguard-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(g.cfg.BrokerURL())
	opts.SetClientID(clientID)
	if g.cfg.Username != "" {
		opts.SetUsername(g.cfg.Username)
	}
	if g.cfg.Password != "" {
		opts.SetPassword(g.cfg.Password)
	}
	// We drive reconnection ourselves so the backoff schedule matches
	// spec.md §4.1 exactly; paho's built-in auto-reconnect does not
	// expose a capped exponential schedule.
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		g.logger.Warn("lost broker connection", zap.Error(err))
	})

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		client := mqtt.NewClient(opts)
		token := client.Connect()
		if ok := token.WaitTimeout(30 * time.Second); !ok || token.Error() != nil {
			if token.Error() != nil {
				g.logger.Error("broker connect failed", zap.Error(token.Error()))
			} else {
				g.logger.Error("broker connect timed out")
			}
			g.metrics.BrokerReconnects.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		g.mu.Lock()
		g.client = client
		g.mu.Unlock()

		if err := g.subscribeAll(client); err != nil {
			g.logger.Error("subscribe after connect failed", zap.Error(err))
			client.Disconnect(250)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		g.logger.Info("connected to broker", zap.String("broker", g.cfg.BrokerURL()))
		backoff = initialBackoff

		// Block until the connection drops or we're asked to stop,
		// then loop back around to reconnect.
		g.waitForDisconnect(ctx, client)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.stopCh:
			return nil
		default:
		}
	}
}

func (g *Gateway) waitForDisconnect(ctx context.Context, client mqtt.Client) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case <-ticker.C:
			if !client.IsConnected() {
				return
			}
		}
	}
}

// subscribeAll (re)subscribes to raw and config topics. Idempotent:
// paho treats a repeat Subscribe on the same topic as a no-op
// resubscription, matching spec.md §4.1's "re-subscription after
// reconnect is idempotent."
func (g *Gateway) subscribeAll(client mqtt.Client) error {
	if token := client.Subscribe(g.cfg.RawTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		g.handleRaw(msg.Payload())
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", g.cfg.RawTopic, token.Error())
	}

	if token := client.Subscribe(g.cfg.ConfigTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		g.handleConfig(msg.Payload())
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", g.cfg.ConfigTopic, token.Error())
	}

	return nil
}

func (g *Gateway) handleRaw(payload []byte) {
	if !json.Valid(payload) {
		g.metrics.MessagesDropped.WithLabelValues("invalid_json").Inc()
		g.logger.Warn("dropping unparseable raw vitals payload")
		return
	}
	if g.rawHandler != nil {
		g.rawHandler(payload)
	}
}

func (g *Gateway) handleConfig(payload []byte) {
	if !json.Valid(payload) {
		g.metrics.MessagesDropped.WithLabelValues("invalid_json").Inc()
		g.logger.Warn("dropping unparseable config payload")
		return
	}
	if g.configHandler != nil {
		g.configHandler(payload)
	}
}

// publish fires-and-forgets a JSON payload to topic; QoS 0, no retain.
func (g *Gateway) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return apperr.Wrap(apperr.ErrInternal, err)
	}

	g.mu.Lock()
	client := g.client
	g.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return apperr.Wrap(apperr.ErrTransport, fmt.Errorf("not connected"))
	}

	token := client.Publish(topic, 0, false, payload)
	token.Wait()
	if token.Error() != nil {
		return apperr.Wrap(apperr.ErrTransport, token.Error())
	}
	return nil
}

// PublishVitals publishes an enriched sample to the enriched-vitals
// topic, and fans it out to any in-process observers.
func (g *Gateway) PublishVitals(v any) error {
	if payload, err := json.Marshal(v); err == nil {
		g.fanOut(payload)
	}
	return g.publish(g.cfg.VitalsTopic, v)
}

// PublishAlert publishes an Alert to the alerts topic.
func (g *Gateway) PublishAlert(v any) error {
	return g.publish(g.cfg.AlertsTopic, v)
}

// PublishConfig echoes the active DetectorConfig on the config topic.
func (g *Gateway) PublishConfig(v any) error {
	return g.publish(g.cfg.ConfigTopic, v)
}

// Stop disconnects the broker connection and unblocks Connect.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
		g.mu.Lock()
		client := g.client
		g.mu.Unlock()
		if client != nil {
			client.Disconnect(250)
		}
	})
}
