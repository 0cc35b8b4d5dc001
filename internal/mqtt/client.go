package mqtt

import (
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Subscriber is the subscribe side of a broker connection.
type Subscriber interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

// Publisher is the publish side of a broker connection.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

const defaultTimeout = 10 * time.Second

// Options configure a Client. Zero values take defaults.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Timeout bounds each connect, subscribe and publish.
	Timeout time.Duration
	// Will is published retained by the broker when the connection drops.
	Will *Will
}

// Will is a last-will message.
type Will struct {
	Topic   string
	Payload []byte
}

// Client wraps the Paho MQTT client.
type Client struct {
	client  paho.Client
	broker  string
	timeout time.Duration
	mu      sync.Mutex

	hooksMu sync.Mutex
	hooks   []func()
}

// BrokerURL returns the MQTT broker URL from env or default.
func BrokerURL() string {
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	return "tcp://localhost:1883"
}

// NewClient creates a new MQTT client but does not connect. An empty
// broker uses BrokerURL.
func NewClient(o Options) *Client {
	c := &Client{broker: o.Broker, timeout: o.Timeout}
	if c.broker == "" {
		c.broker = BrokerURL()
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}

	opts := paho.NewClientOptions().
		AddBroker(c.broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(func(paho.Client) { c.runHooks() })
	if o.Username != "" {
		opts.SetUsername(o.Username).SetPassword(o.Password)
	}
	if o.Will != nil {
		opts.SetBinaryWill(o.Will.Topic, o.Will.Payload, 1, true)
	}
	c.client = paho.NewClient(opts)
	return c
}

// Broker returns the broker URL the client dials.
func (c *Client) Broker() string {
	return c.broker
}

// OnConnect registers f to run after every successful connect, including
// automatic reconnects.
func (c *Client) OnConnect(f func()) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = append(c.hooks, f)
}

func (c *Client) runHooks() {
	c.hooksMu.Lock()
	hooks := append([]func(){}, c.hooks...)
	c.hooksMu.Unlock()
	for _, f := range hooks {
		f()
	}
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(c.timeout) {
		return &ConnectTimeoutError{}
	}
	if err := token.Error(); err != nil {
		return err
	}
	return nil
}

// Subscribe subscribes to a topic with the given handler.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(c.timeout) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Publish sends payload with QoS 1.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return &PublishTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

// SubscribeTimeoutError indicates subscription timed out.
type SubscribeTimeoutError struct {
	Topic string
}

func (e *SubscribeTimeoutError) Error() string {
	return "mqtt subscribe timeout: " + e.Topic
}

// PublishTimeoutError indicates a publish was not acknowledged in time.
type PublishTimeoutError struct {
	Topic string
}

func (e *PublishTimeoutError) Error() string {
	return "mqtt publish timeout: " + e.Topic
}

// Start connects, logging errors but not crashing.
// Returns true if connected, false otherwise.
func (c *Client) Start(log *zap.SugaredLogger) bool {
	if err := c.Connect(); err != nil {
		log.Warnw("mqtt connect failed", "broker", c.broker, "error", err)
		return false
	}
	log.Infow("mqtt connected", "broker", c.broker)
	return true
}
