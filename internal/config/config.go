// Package config loads the fleetcmd configuration shared by the coordinator,
// workers and the command loader.
//
// Values come from, in increasing precedence: built-in defaults, a config
// file (YAML, TOML or JSON), environment variables, and command line flags
// bound by the caller. MQTT_BROKER overrides broker.address and CLIENT_ID
// sets worker.id; every other key is reachable as FLEETCMD_<SECTION>_<KEY>.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/dreamware/fleetcmd/internal/cluster"
)

// EnvPrefix prefixes environment overrides for every key.
const EnvPrefix = "FLEETCMD"

// Config is the complete fleetcmd configuration.
type Config struct {
	Topics      TopicsConfig       `mapstructure:"topics"`
	Broker      BrokerConfig       `mapstructure:"broker"`
	Wire        WireConfig         `mapstructure:"wire"`
	Feedback    FeedbackConfig     `mapstructure:"feedback"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Worker      WorkerConfig       `mapstructure:"worker"`
	Pipelines   []cluster.Pipeline `mapstructure:"pipelines"`
	Coordinator CoordinatorConfig  `mapstructure:"coordinator"`
}

// BrokerConfig locates the MQTT broker.
type BrokerConfig struct {
	Address string `mapstructure:"address"`
	// ClientID is the MQTT client id. Empty means one is generated; workers
	// use their identity.
	ClientID       string        `mapstructure:"client_id"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	QoS            int           `mapstructure:"qos"`
}

// TopicsConfig names the five bus topics.
type TopicsConfig struct {
	Registration  string `mapstructure:"registration"`
	Ack           string `mapstructure:"ack"`
	Command       string `mapstructure:"command"`
	Response      string `mapstructure:"response"`
	CommandLoader string `mapstructure:"command_loader"`
}

// WireConfig selects the payload encoding.
type WireConfig struct {
	// Format is "delimited" or "structured".
	Format string `mapstructure:"format"`
}

// CoordinatorConfig controls discovery and dispatch.
type CoordinatorConfig struct {
	// StatusListen enables the HTTP status surface when non-empty.
	StatusListen string `mapstructure:"status_listen"`
	// RegistrationTimeout is the quiescence window: discovery ends once no
	// new worker has registered for this long.
	RegistrationTimeout time.Duration `mapstructure:"registration_timeout"`
	// PollInterval is how often the quiescence condition is checked.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// CommandDelay is the pause after each pipeline publish.
	CommandDelay time.Duration `mapstructure:"command_delay"`
	// HistorySize is how many results per worker the status surface keeps.
	HistorySize  int  `mapstructure:"history_size"`
	PipelineMode bool `mapstructure:"pipeline_mode"`
	RealtimeMode bool `mapstructure:"realtime_mode"`
	AcceptLoader bool `mapstructure:"accept_loader"`
}

// FeedbackConfig controls durable result logging.
type FeedbackConfig struct {
	File    string `mapstructure:"file"`
	Persist bool   `mapstructure:"persist"`
}

// LoggingConfig controls console output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}

// WorkerConfig controls a worker process.
type WorkerConfig struct {
	ID                   string        `mapstructure:"id"`
	Shell                string        `mapstructure:"shell"`
	RegistrationInterval time.Duration `mapstructure:"registration_interval"`
	StartupDelay         time.Duration `mapstructure:"startup_delay"`
	PollTimeout          time.Duration `mapstructure:"poll_timeout"`
	// CommandTimeout bounds each command; zero disables it.
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Address:        "localhost",
			Port:           1883,
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
			QoS:            1,
		},
		Topics: TopicsConfig{
			Registration:  "fleet/registration",
			Ack:           "fleet/ack",
			Command:       "fleet/command",
			Response:      "fleet/response",
			CommandLoader: "fleet/command_loader",
		},
		Wire: WireConfig{Format: "delimited"},
		Coordinator: CoordinatorConfig{
			RegistrationTimeout: 5 * time.Second,
			PollInterval:        100 * time.Millisecond,
			CommandDelay:        time.Second,
			HistorySize:         100,
			PipelineMode:        true,
		},
		Feedback: FeedbackConfig{File: "feedback.log"},
		Logging:  LoggingConfig{Level: "info", Format: "console", Color: true},
		Worker: WorkerConfig{
			ID:                   "client1",
			Shell:                "/bin/sh",
			RegistrationInterval: 5 * time.Second,
			StartupDelay:         500 * time.Millisecond,
			PollTimeout:          time.Second,
		},
	}
}

// NewViper returns a viper instance with defaults registered and
// environment overrides bound. Callers may bind flags before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Names kept from the original deployment scripts.
	_ = v.BindEnv("broker.address", "MQTT_BROKER", EnvPrefix+"_BROKER_ADDRESS")
	_ = v.BindEnv("worker.id", "CLIENT_ID", EnvPrefix+"_WORKER_ID")
	return v
}

// setDefaults registers default values with v.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("broker.address", d.Broker.Address)
	v.SetDefault("broker.port", d.Broker.Port)
	v.SetDefault("broker.client_id", d.Broker.ClientID)
	v.SetDefault("broker.connect_timeout", d.Broker.ConnectTimeout)
	v.SetDefault("broker.publish_timeout", d.Broker.PublishTimeout)
	v.SetDefault("broker.qos", d.Broker.QoS)

	v.SetDefault("topics.registration", d.Topics.Registration)
	v.SetDefault("topics.ack", d.Topics.Ack)
	v.SetDefault("topics.command", d.Topics.Command)
	v.SetDefault("topics.response", d.Topics.Response)
	v.SetDefault("topics.command_loader", d.Topics.CommandLoader)

	v.SetDefault("wire.format", d.Wire.Format)

	v.SetDefault("coordinator.registration_timeout", d.Coordinator.RegistrationTimeout)
	v.SetDefault("coordinator.poll_interval", d.Coordinator.PollInterval)
	v.SetDefault("coordinator.command_delay", d.Coordinator.CommandDelay)
	v.SetDefault("coordinator.pipeline_mode", d.Coordinator.PipelineMode)
	v.SetDefault("coordinator.realtime_mode", d.Coordinator.RealtimeMode)
	v.SetDefault("coordinator.accept_loader", d.Coordinator.AcceptLoader)
	v.SetDefault("coordinator.status_listen", d.Coordinator.StatusListen)
	v.SetDefault("coordinator.history_size", d.Coordinator.HistorySize)

	v.SetDefault("feedback.persist", d.Feedback.Persist)
	v.SetDefault("feedback.file", d.Feedback.File)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.color", d.Logging.Color)

	v.SetDefault("worker.id", d.Worker.ID)
	v.SetDefault("worker.shell", d.Worker.Shell)
	v.SetDefault("worker.registration_interval", d.Worker.RegistrationInterval)
	v.SetDefault("worker.startup_delay", d.Worker.StartupDelay)
	v.SetDefault("worker.poll_timeout", d.Worker.PollTimeout)
	v.SetDefault("worker.command_timeout", d.Worker.CommandTimeout)
}

// Load reads the config file at path (when non-empty) into v, then
// decodes and validates the result. With an empty path, "config" is searched
// for in the working directory and ~/.config/fleetcmd, and a missing file is
// not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "fleetcmd"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook,
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	for i, p := range cfg.Pipelines {
		cfg.Pipelines[i].Commands = splitCommands(p.Commands)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook reads bare numbers, including numeric strings from
// the environment, as seconds.
func secondsToDurationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if from == durationType {
			return data, nil
		}
		return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
	case reflect.String:
		if f, err := strconv.ParseFloat(strings.TrimSpace(data.(string)), 64); err == nil {
			return time.Duration(f * float64(time.Second)), nil
		}
	}
	return data, nil
}

// splitCommands accepts commands written one per list entry or as a single
// ';' separated string.
func splitCommands(in []string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		for _, part := range strings.Split(c, ";") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
