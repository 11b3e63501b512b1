package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"liftgateway/pkg/lift"
	"liftgateway/pkg/utils/channelutil"
)

type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportTLS Transport = "tls"
)

const (
	payloadOn  = "ON"
	payloadOff = "OFF"

	// minimum spacing between connection attempts so an unreachable broker is
	// not hammered
	connectRetryInterval = time.Second

	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 2000 // milliseconds
)

// Config is the broker side of the gateway settings, immutable once loaded.
type Config struct {
	Host       string
	Port       int // 0 picks the transport default
	Transport  Transport
	Username   string
	Password   string
	ID         string
	Name       string
	Prefix     string
	HassPrefix string
}

// Coordinator owns the single broker connection. Two independent activities
// share it: the paho network loop (the event pump, which also runs the message
// callbacks) and the issuer loop in Run. The pump never publishes; it only
// relays "connected" over a one slot channel, because publishing from the
// pump's own callbacks can deadlock against the client's outbound queue once
// it fills.
type Coordinator struct {
	cfg      Config
	commands chan lift.Command
	heights  chan float64

	connectedTopic string
	heightTopic    string
	commandTopic   string

	connected chan struct{}

	// newClient is a seam for tests
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func New(cfg Config, commands chan lift.Command, heights chan float64) *Coordinator {
	return &Coordinator{
		cfg:            cfg,
		commands:       commands,
		heights:        heights,
		connectedTopic: fmt.Sprintf("%s/%s/connected", cfg.Prefix, cfg.ID),
		heightTopic:    fmt.Sprintf("%s/%s/height", cfg.Prefix, cfg.ID),
		commandTopic:   fmt.Sprintf("%s/%s/command", cfg.Prefix, cfg.ID),
		connected:      make(chan struct{}, 1),
		newClient:      mqtt.NewClient,
	}
}

// Run connects and serves until the context is canceled. Broker level errors
// are retried inside the client; they never reach the protocol engine.
func (c *Coordinator) Run(ctx context.Context) error {
	client := c.newClient(c.clientOptions())
	defer client.Disconnect(disconnectQuiesce)

	// with connect retry on, the token may never complete while the broker is
	// unreachable; shutdown must not wait behind it
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if len(c.cfg.HassPrefix) > 0 {
		if err := c.publishDiscovery(client); err != nil {
			return err
		}
	}

	return c.issue(ctx, client)
}

func (c *Coordinator) clientOptions() *mqtt.ClientOptions {
	scheme, port := "tcp", 1883
	if c.cfg.Transport == TransportTLS {
		scheme, port = "ssl", 8883
	}
	if c.cfg.Port > 0 {
		port = c.cfg.Port
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Host, port)).
		SetClientID(fmt.Sprintf("%s-%s", c.cfg.ID, uuid.NewString()[:8])).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(connectRetryInterval).
		SetBinaryWill(c.connectedTopic, []byte(payloadOff), 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			klog.V(1).InfoS("MQTT connection lost", "error", err)
		})
	if len(c.cfg.Username) > 0 {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	return opts
}

// onConnect runs on the client's network goroutine: signal and get out.
func (c *Coordinator) onConnect(mqtt.Client) {
	klog.V(1).InfoS("MQTT connected")
	select {
	case c.connected <- struct{}{}:
	default:
	}
}

// issue sends all subscribe and publish requests. The will flips the presence
// topic off on any unclean drop, so every (re)connect signal must subscribe
// again and flip presence back on.
func (c *Coordinator) issue(ctx context.Context, client mqtt.Client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.connected:
			if token := client.Subscribe(c.commandTopic, 0, c.handleCommand); token.WaitTimeout(publishTimeout) && token.Error() != nil {
				klog.ErrorS(token.Error(), "Failed to subscribe", "topic", c.commandTopic)
			}
			c.publish(client, c.connectedTopic, payloadOn)
		case height := <-c.heights:
			c.publish(client, c.heightTopic, strconv.FormatFloat(height, 'f', -1, 64))
		}
	}
}

func (c *Coordinator) publish(client mqtt.Client, topic, payload string) {
	token := client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		klog.V(1).InfoS("Publish not acknowledged in time", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		klog.V(1).InfoS("Failed to publish", "topic", topic, "error", err)
		return
	}
	klog.V(4).InfoS("Published", "topic", topic, "payload", payload)
}

// handleCommand runs on the client's router goroutine; the drop-oldest send
// keeps it from ever blocking there.
func (c *Coordinator) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	cmd, ok := parseCommand(msg.Payload())
	if !ok {
		klog.V(2).InfoS("Ignoring unknown command payload", "payload", string(msg.Payload()))
		return
	}
	klog.V(2).InfoS("Accepted command", "command", cmd)
	channelutil.SendLatest(c.commands, cmd)
}

func parseCommand(payload []byte) (lift.Command, bool) {
	switch string(payload) {
	case "1":
		return lift.Preset1, true
	case "2":
		return lift.Preset2, true
	case "3":
		return lift.Preset3, true
	case "4":
		return lift.Preset4, true
	case "REFRESH":
		return lift.Refresh, true
	}
	return 0, false
}
