package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/Agrid-Dev/preheat/internal/device"
	"github.com/Agrid-Dev/preheat/internal/heating"
)

// EnvPrefix marks the environment variables that override configuration.
const EnvPrefix = "PREHEAT_"

var (
	ErrInvalidTickInterval    = errors.New("tick_interval must be greater than zero")
	ErrInvalidScheduleHorizon = errors.New("schedule_horizon must be greater than zero")
	ErrEmptyRoomID            = errors.New("every room needs an id")
	ErrNoRooms                = errors.New("no rooms configured")
)

type Config struct {
	InstanceID       string               `koanf:"instance_id"`
	LogLevel         string               `koanf:"log_level"`
	TickInterval     time.Duration        `koanf:"tick_interval"`
	MinTemperature   float64              `koanf:"min_temperature"`
	ScheduleHorizon  time.Duration        `koanf:"schedule_horizon"`
	ControlName      string               `koanf:"control_name"`
	Rooms            []RoomConfig         `koanf:"rooms"`
	Coefficients     map[string][]float64 `koanf:"coefficients"`
	CoefficientsFile string               `koanf:"coefficients_file"`

	Controllers struct {
		HTTP   HTTPConfig   `koanf:"http"`
		MQTT   MQTTConfig   `koanf:"mqtt"`
		Modbus ModbusConfig `koanf:"modbus"`
	} `koanf:"controllers"`

	Environment struct {
		HeatPump HeatPumpConfig `koanf:"heat_pump"`
	} `koanf:"environment"`

	Events struct {
		Log   LogEventsConfig `koanf:"log"`
		Kafka KafkaConfig     `koanf:"kafka"`
	} `koanf:"events"`

	Sessions SessionsConfig `koanf:"sessions"`
}

// RoomConfig is a control entity. Name is its display name, e.g.
// "Wiser Dining room"; the control name is stripped to find coefficients.
type RoomConfig struct {
	ID   string `koanf:"id"`
	Name string `koanf:"name"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BrokerURL       string        `koanf:"broker_url"`
	ClientID        string        `koanf:"client_id"`
	BaseTopic       string        `koanf:"base_topic"`
	QoS             byte          `koanf:"qos"`
	RetainSnapshot  bool          `koanf:"retain_snapshot"`
	PublishInterval time.Duration `koanf:"publish_interval"`
	PublishTimeout  time.Duration `koanf:"publish_timeout"`
	PublishEvents   bool          `koanf:"publish_events"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
}

type ModbusConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	UnitID  byte   `koanf:"unit_id"`
}

type HeatPumpConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Addr            string        `koanf:"addr"`
	SlaveID         byte          `koanf:"slave_id"`
	RegisterType    string        `koanf:"register_type"`
	FlowRegister    uint16        `koanf:"flow_register"`
	OutsideRegister uint16        `koanf:"outside_register"`
	Scale           float64       `koanf:"scale"`
	Interval        time.Duration `koanf:"interval"`
	Timeout         time.Duration `koanf:"timeout"`
}

type LogEventsConfig struct {
	Enabled bool `koanf:"enabled"`
}

type KafkaConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Brokers      []string      `koanf:"brokers"`
	Topic        string        `koanf:"topic"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type SessionsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	var cfg Config
	cfg.InstanceID = "default"
	cfg.LogLevel = "info"
	cfg.TickInterval = 10 * time.Second
	cfg.MinTemperature = 0
	cfg.ScheduleHorizon = 36 * 24 * time.Hour
	cfg.ControlName = "Wiser"

	cfg.Controllers.HTTP = HTTPConfig{Enabled: true, Addr: ":8080"}
	cfg.Controllers.MQTT = MQTTConfig{
		BrokerURL:       "tcp://localhost:1883",
		PublishInterval: 1 * time.Second,
		PublishTimeout:  5 * time.Second,
		PublishEvents:   true,
	}
	cfg.Controllers.Modbus = ModbusConfig{Addr: "127.0.0.1:1502", UnitID: 1}

	cfg.Environment.HeatPump = HeatPumpConfig{
		SlaveID:      1,
		RegisterType: "holding",
		Scale:        10,
		Interval:     30 * time.Second,
		Timeout:      5 * time.Second,
	}

	cfg.Events.Log.Enabled = true
	cfg.Events.Kafka = KafkaConfig{Topic: "preheat.events", WriteTimeout: 10 * time.Second}

	cfg.Sessions = SessionsConfig{Enabled: true, Path: "preheat.db"}
	return cfg
}

// LoadConfig layers defaults, the config file (.yaml/.yml/.json) and
// PREHEAT_* environment variables. A missing file means defaults.
func LoadConfig(path string) (Config, error) {
	return loadConfig(path, os.Environ)
}

func loadConfig(path string, environ func() []string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return Config{}, err
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envTransform,
		EnvironFunc:   environ,
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	applyPortOverride(&cfg, environ)
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			// Config file missing → use defaults
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var parser koanf.Parser
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config extension %q", ext)
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// applyPortOverride supports PORT (common in containers) when no explicit
// address was given through the environment.
func applyPortOverride(cfg *Config, environ func() []string) {
	var port string
	for _, kv := range environ() {
		if strings.HasPrefix(kv, EnvPrefix+"CONTROLLERS_HTTP_ADDR=") {
			return
		}
		if v, ok := strings.CutPrefix(kv, "PORT="); ok {
			port = v
		}
	}
	if port != "" {
		// listen on all interfaces on that port
		cfg.Controllers.HTTP.Addr = ":" + port
	}
}

func envTransform(k, v string) (string, any) {
	key := envKeyTransform(strings.TrimPrefix(k, EnvPrefix))
	if key == "" {
		return "", nil
	}
	if strings.HasSuffix(key, ".brokers") {
		return key, strings.Split(v, ",")
	}
	return key, v
}

var nestedSections = map[string][]string{
	"controllers": {"http", "mqtt", "modbus"},
	"environment": {"heat_pump"},
	"events":      {"log", "kafka"},
}

var flatSections = []string{"sessions"}

// envKeyTransform maps an environment key (without prefix) to a config
// path, e.g. CONTROLLERS_MQTT_BROKER_URL -> controllers.mqtt.broker_url.
// Keys outside a known section are lowercased as they are.
func envKeyTransform(s string) string {
	k := strings.ToLower(strings.TrimSpace(s))
	if k == "" {
		return ""
	}

	for section, subs := range nestedSections {
		rest, ok := strings.CutPrefix(k, section+"_")
		if !ok {
			continue
		}
		for _, sub := range subs {
			if field, ok := strings.CutPrefix(rest, sub+"_"); ok && field != "" {
				return section + "." + sub + "." + field
			}
		}
		if sub, field, ok := strings.Cut(rest, "_"); ok {
			return section + "." + sub + "." + field
		}
		// not enough parts
		return k
	}

	for _, section := range flatSections {
		if field, ok := strings.CutPrefix(k, section+"_"); ok && field != "" {
			return section + "." + field
		}
	}
	return k
}

func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return ErrInvalidTickInterval
	}
	if c.ScheduleHorizon <= 0 {
		return ErrInvalidScheduleHorizon
	}
	if len(c.Rooms) == 0 {
		return ErrNoRooms
	}
	for i, r := range c.Rooms {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("rooms[%d]: %w", i, ErrEmptyRoomID)
		}
	}
	return nil
}

// CoefficientTable loads coefficients_file, if any, and lays the inline
// coefficients over it.
func (c Config) CoefficientTable() (heating.CoefficientTable, error) {
	table := heating.CoefficientTable{}
	if c.CoefficientsFile != "" {
		t, err := heating.LoadCoefficients(c.CoefficientsFile)
		if err != nil {
			return nil, err
		}
		table = t
	}
	inline, err := heating.TableFromSlices(c.Coefficients)
	if err != nil {
		return nil, fmt.Errorf("coefficients: %w", err)
	}
	for room, co := range inline {
		table[room] = co
	}
	return table, nil
}

// Devices returns the configured rooms with their coefficient names.
func (c Config) Devices() []*device.Device {
	out := make([]*device.Device, 0, len(c.Rooms))
	for _, r := range c.Rooms {
		name := r.Name
		if name == "" {
			name = r.ID
		}
		out = append(out, device.New(r.ID, name, c.ControlName))
	}
	return out
}

// RoomIDs returns the room ids in configuration order.
func (c Config) RoomIDs() []string {
	out := make([]string, 0, len(c.Rooms))
	for _, r := range c.Rooms {
		out = append(out, r.ID)
	}
	return out
}
