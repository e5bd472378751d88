package scheduler

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTTriggerConfig configures an external MQTT-triggered workflow run.
type MQTTTriggerConfig struct {
	Broker        string
	ClientID      string
	Username      string
	Password      string
	KeepAlive     time.Duration
	AutoReconnect bool
}

// MQTTTrigger subscribes to a broker and fires a workflow each time a
// message arrives on its configured topic, mapping topic -> workflow ID.
type MQTTTrigger struct {
	client    mqtt.Client
	scheduler *Scheduler
	logger    *zap.Logger

	mu       sync.RWMutex
	bindings map[string]string // topic -> workflow ID
}

// NewMQTTTrigger connects to cfg.Broker and returns a trigger ready for
// Bind calls. The connection is established eagerly, mirroring the
// teacher's MQTT-in node connecting on first use.
func NewMQTTTrigger(cfg MQTTTriggerConfig, s *Scheduler, logger *zap.Logger) (*MQTTTrigger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &MQTTTrigger{scheduler: s, logger: logger, bindings: make(map[string]string)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("edgeflow-scheduler-%d", time.Now().UnixNano())
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(cfg.AutoReconnect)
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	} else {
		opts.SetKeepAlive(60 * time.Second)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.logger.Warn("mqtt trigger connection lost", zap.Error(err))
	})

	t.client = mqtt.NewClient(opts)
	token := t.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, err)
	}

	return t, nil
}

// Bind subscribes to topic and registers workflowID to fire on every
// message received on it, regardless of payload content.
func (t *MQTTTrigger) Bind(topic, workflowID string, qos byte) error {
	t.mu.Lock()
	t.bindings[topic] = workflowID
	t.mu.Unlock()

	token := t.client.Subscribe(topic, qos, t.handle)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to topic %s: %w", topic, err)
	}
	return nil
}

// Unbind removes a topic's binding and unsubscribes from it.
func (t *MQTTTrigger) Unbind(topic string) {
	t.mu.Lock()
	delete(t.bindings, topic)
	t.mu.Unlock()
	t.client.Unsubscribe(topic)
}

func (t *MQTTTrigger) handle(_ mqtt.Client, msg mqtt.Message) {
	t.mu.RLock()
	workflowID, ok := t.bindings[msg.Topic()]
	t.mu.RUnlock()
	if !ok {
		return
	}

	if err := t.scheduler.FireNow(workflowID); err != nil {
		t.logger.Warn("mqtt-triggered run failed to start",
			zap.String("topic", msg.Topic()), zap.String("workflow_id", workflowID), zap.Error(err))
	}
}

// Close disconnects from the broker.
func (t *MQTTTrigger) Close() {
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250)
	}
}
