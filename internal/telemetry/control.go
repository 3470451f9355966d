package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Command is a control message, e.g.
//
//	{"command": "set_parameters", "params": {"orientation": 270, "flip": true}}
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response acknowledges a Command on <topic>/response.
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Callbacks implement the commands. A nil callback makes its command
// answer "not supported".
type Callbacks struct {
	OnGetStatus     func() map[string]interface{}
	OnSetParameters func(orientation int, flip bool) error
	OnShutdown      func()
}

// Control receives commands on an MQTT topic and runs them one at a time.
type Control struct {
	e     *Emitter
	topic string
	cb    Callbacks
	log   zerolog.Logger

	commands chan Command
}

// NewControl creates a control handler sharing e's connection.
func NewControl(e *Emitter, topic string, cb Callbacks, log zerolog.Logger) *Control {
	return &Control{
		e:        e,
		topic:    topic,
		cb:       cb,
		log:      log.With().Str("topic", topic).Logger(),
		commands: make(chan Command, 10),
	}
}

// Start subscribes and processes commands until ctx is done. The
// subscription is renewed after every reconnection. Connect must have been
// called on the emitter first, even if it failed.
func (c *Control) Start(ctx context.Context) error {
	if c.e.client == nil {
		return ErrNotConnected
	}
	c.e.OnReconnect(func() {
		if err := c.subscribe(); err != nil {
			c.log.Error().Err(err).Msg("control: resubscribe failed")
		}
	})
	go c.process(ctx)

	// While disconnected the subscription waits for the next connection.
	if c.e.client.IsConnected() {
		if err := c.subscribe(); err != nil {
			return err
		}
	}
	c.log.Info().Msg("control: handler started")
	return nil
}

// Stop unsubscribes.
func (c *Control) Stop() {
	if c.e.client != nil && c.e.client.IsConnected() {
		c.e.client.Unsubscribe(c.topic).WaitTimeout(time.Second)
	}
}

func (c *Control) subscribe() error {
	token := c.e.client.Subscribe(c.topic, c.e.cfg.QoS, c.onMessage)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}
	return nil
}

func (c *Control) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		c.log.Warn().Err(err).Msg("control: invalid command")
		c.respond(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}
	select {
	case c.commands <- cmd:
	default:
		c.log.Warn().Str("command", cmd.Command).Msg("control: queue full, dropping command")
	}
}

func (c *Control) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.commands:
			c.respond(c.Handle(cmd))
		}
	}
}

// Handle runs one command and builds its response.
func (c *Control) Handle(cmd Command) Response {
	c.log.Info().Str("command", cmd.Command).Msg("control: command received")
	resp := Response{CommandAck: cmd.Command, Status: "success"}
	fail := func(format string, args ...interface{}) Response {
		resp.Status, resp.Error = "error", fmt.Sprintf(format, args...)
		return resp
	}

	switch cmd.Command {
	case "get_status":
		if c.cb.OnGetStatus == nil {
			return fail("get_status not supported")
		}
		resp.Data = c.cb.OnGetStatus()

	case "set_parameters":
		if c.cb.OnSetParameters == nil {
			return fail("set_parameters not supported")
		}
		deg, ok := cmd.Params["orientation"].(float64)
		if !ok {
			return fail("missing or invalid 'orientation' parameter (expected 0, 90, 180 or 270)")
		}
		flip, _ := cmd.Params["flip"].(bool)
		if err := c.cb.OnSetParameters(int(deg), flip); err != nil {
			return fail("%v", err)
		}
		resp.Data = map[string]interface{}{"orientation": int(deg), "flip": flip}

	case "shutdown":
		if c.cb.OnShutdown == nil {
			return fail("shutdown not supported")
		}
		c.cb.OnShutdown()
		resp.Status = "shutting_down"

	default:
		return fail("unknown command: %s", cmd.Command)
	}
	return resp
}

func (c *Control) respond(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(resp)
	if err != nil {
		c.log.Error().Err(err).Msg("control: failed to marshal response")
		return
	}
	token := c.e.client.Publish(c.topic+"/response", c.e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		c.log.Warn().Msg("control: response publish timeout")
	}
}
