package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/Agrid-Dev/preheat/internal/heating"
	"github.com/Agrid-Dev/preheat/internal/hoststate"
	"github.com/Agrid-Dev/preheat/internal/logger"
	"github.com/Agrid-Dev/preheat/internal/ports"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	ErrNotConnected   = errors.New("mqtt: client not connected")
	ErrPublishTimeout = errors.New("mqtt: publish timed out")
)

type Config struct {
	// Identity
	InstanceID string

	// MQTT connection
	BrokerURL string
	ClientID  string

	// Topics
	BaseTopic string

	// Behavior
	QoS             byte
	RetainSnapshot  bool
	PublishInterval time.Duration
	PublishTimeout  time.Duration

	Username string
	Password string
}

type Controller struct {
	svc   ports.RoomService
	state ports.StateWriter
	cfg   Config
	log   *logger.Logger

	mu     sync.RWMutex
	client mqtt.Client
}

func New(svc ports.RoomService, state ports.StateWriter, cfg Config, log *logger.Logger) (*Controller, error) {
	// ---- defaults ----

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}

	if cfg.InstanceID == "" {
		return nil, errors.New("mqtt: InstanceID is required")
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "preheat/" + cfg.InstanceID
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "preheat-" + cfg.InstanceID
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 1 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Controller{
		svc:   svc,
		state: state,
		cfg:   cfg,
		log:   log.Named("mqtt"),
	}, nil
}

func (c *Controller) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	// Subscribe when connected/reconnected.
	opts.OnConnect = func(cl mqtt.Client) {
		token := cl.SubscribeMultiple(map[string]byte{
			c.topic("rooms/+/set/+"):     c.cfg.QoS,
			c.topic("environment/set/+"): c.cfg.QoS,
		}, c.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Warnw("subscribe failed", "err", err)
		}
	}

	client := mqtt.NewClient(opts)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	tok := client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.log.Infow("connected", "broker", c.cfg.BrokerURL, "base_topic", c.cfg.BaseTopic)

	// Publish loop: publish snapshots on interval, and only when changed.
	ticker := time.NewTicker(c.cfg.PublishInterval)
	defer ticker.Stop()

	last := make(map[string]heating.Snapshot)
	c.publishChanged(last)

	for {
		select {
		case <-ctx.Done():
			client.Disconnect(250)
			return ctx.Err()

		case <-ticker.C:
			c.publishChanged(last)
		}
	}
}

func (c *Controller) publishChanged(last map[string]heating.Snapshot) {
	for _, s := range c.svc.Rooms() {
		if prev, ok := last[s.RoomID]; ok && reflect.DeepEqual(prev, s) {
			continue
		}
		c.publishSnapshot(s)
		last[s.RoomID] = s
	}
}

func (c *Controller) publishSnapshot(s heating.Snapshot) {
	client := c.getClient()
	if client == nil {
		return
	}
	dto := snapshotDTO{
		RoomName:              s.RoomName,
		State:                 s.PredictedLeadMinutes,
		CurrentTemperature:    s.CurrentTemperature,
		NextTargetTemperature: s.NextTargetTemperature,
		NextScheduleChange:    s.NextScheduleChange,
		PlannedHeatStart:      s.PlannedHeatStart,
		ControlState:          s.Phase.String(),
		ObservedTarget:        s.ObservedTarget,
		ObservedNextChange:    s.ObservedNextChange,
		OnTime:                s.OnTime,
		OnTemperature:         s.OnTemperature,
		OffTime:               s.OffTime,
		OffTemperature:        s.OffTemperature,
		FlowTemperature:       s.FlowTemperature,
		AmbientTemperature:    s.AmbientTemperature,
	}
	b, _ := json.Marshal(dto)
	client.Publish(c.topic("rooms/"+s.RoomID+"/snapshot"), c.cfg.QoS, c.cfg.RetainSnapshot, b)
}

// Notify publishes a room event on <base>/events and waits for the broker
// to acknowledge it.
func (c *Controller) Notify(ctx context.Context, e heating.Event) error {
	client := c.getClient()
	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("mqtt: encode event: %w", err)
	}

	tok := client.Publish(c.topic("events"), c.cfg.QoS, false, b)
	timer := time.NewTimer(c.cfg.PublishTimeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) getClient() mqtt.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

type snapshotDTO struct {
	RoomName              string     `json:"room_name"`
	State                 int        `json:"state"`
	CurrentTemperature    float64    `json:"current_temperature"`
	NextTargetTemperature float64    `json:"next_target_temperature"`
	NextScheduleChange    time.Time  `json:"next_schedule_change"`
	PlannedHeatStart      time.Time  `json:"planned_heat_start"`
	ControlState          string     `json:"control_state"`
	ObservedTarget        float64    `json:"observed_target"`
	ObservedNextChange    time.Time  `json:"observed_next_change"`
	OnTime                *time.Time `json:"on_time"`
	OnTemperature         *float64   `json:"on_temperature"`
	OffTime               *time.Time `json:"off_time"`
	OffTemperature        *float64   `json:"off_temperature"`
	FlowTemperature       *float64   `json:"flow_temperature"`
	AmbientTemperature    *float64   `json:"ambient_temperature"`
}

// Command payload format: {"value": ...}
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	// topic formats:
	//   <base>/rooms/<id>/set/<field>
	//   <base>/environment/set/<field>
	t := msg.Topic()
	base := strings.TrimRight(c.cfg.BaseTopic, "/") + "/"
	if !strings.HasPrefix(t, base) {
		return
	}
	parts := strings.Split(strings.TrimPrefix(t, base), "/")

	var err error
	switch {
	case len(parts) == 4 && parts[0] == "rooms" && parts[2] == "set" && parts[1] != "":
		err = c.applyRoom(parts[1], parts[3], msg.Payload())
	case len(parts) == 3 && parts[0] == "environment" && parts[1] == "set":
		err = c.applyEnvironment(parts[2], msg.Payload())
	default:
		return
	}
	if err != nil {
		c.log.Warnw("command rejected", "topic", t, "err", err)
	}
}

func (c *Controller) applyRoom(roomID, field string, payload []byte) error {
	switch field {
	case "current_temperature":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return err
		}
		return c.state.SetCurrentTemperature(roomID, v)

	case "target_temperature":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return err
		}
		return c.state.SetTargetTemperature(roomID, v)

	case "next_schedule":
		v, err := decodeValueStrict[hoststate.NextSchedule](payload)
		if err != nil {
			return err
		}
		return c.state.SetNextSchedule(roomID, v)
	}
	return fmt.Errorf("unknown room field %q", field)
}

func (c *Controller) applyEnvironment(field string, payload []byte) error {
	v, err := decodeValueStrict[float64](payload)
	if err != nil {
		return err
	}
	switch field {
	case "flow_temperature":
		return c.state.SetFlowTemperature(v)
	case "outside_temperature":
		return c.state.SetOutsideTemperature(v)
	}
	return fmt.Errorf("unknown environment field %q", field)
}

func (c *Controller) topic(suffix string) string {
	return strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + suffix
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
