// Package app builds the collaborators every fleetcmd binary shares from
// one loaded configuration: the logger, the wire codec and the bus.
package app

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/dreamware/fleetcmd/internal/bus"
	"github.com/dreamware/fleetcmd/internal/codec"
	"github.com/dreamware/fleetcmd/internal/config"
	"github.com/dreamware/fleetcmd/internal/logging"
)

// Env is a loaded configuration plus what every binary derives from it.
type Env struct {
	Config *config.Config
	Log    *logging.Logger
	Codec  codec.Codec
}

// FlagBindings maps config keys to command line flag names.
type FlagBindings map[string]string

// CommonFlags registers the flags every binary accepts on fs and returns
// their bindings.
func CommonFlags(fs *pflag.FlagSet) FlagBindings {
	fs.StringP("config", "c", "", "config file (default ./config.yaml or ~/.config/fleetcmd/config.yaml)")
	fs.String("broker", "", "broker host, overrides broker.address")
	fs.Int("port", 0, "broker port, overrides broker.port")
	fs.String("format", "", "wire format: delimited or structured")
	fs.String("log-level", "", "log level: debug, info, warn or error")
	fs.Bool("no-color", false, "disable colored log output")
	return FlagBindings{
		"broker.address": "broker",
		"broker.port":    "port",
		"wire.format":    "format",
		"logging.level":  "log-level",
	}
}

// Load reads configuration with flags in fs taking precedence, then builds
// the logger and codec. Log output goes to stderr.
func Load(fs *pflag.FlagSet, bindings FlagBindings, stderr io.Writer) (*Env, error) {
	v := config.NewViper()
	for key, name := range bindings {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	path, _ := fs.GetString("config")
	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, err
	}
	if noColor, _ := fs.GetBool("no-color"); noColor {
		cfg.Logging.Color = false
	}
	return New(cfg, stderr)
}

// New builds an Env around an already loaded configuration.
func New(cfg *config.Config, stderr io.Writer) (*Env, error) {
	c, err := codec.New(codec.Format(cfg.Wire.Format))
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Options{
		Writer: stderr,
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Color:  cfg.Logging.Color,
	})
	return &Env{Config: cfg, Log: log, Codec: c}, nil
}

// ClientID returns a broker client id unique to this process.
func ClientID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// NewBus builds the MQTT bus for clientID. An empty clientID falls back to
// broker.client_id and then to a generated one.
func (e *Env) NewBus(prefix, clientID string) *bus.MQTT {
	if clientID == "" {
		clientID = e.Config.Broker.ClientID
	}
	if clientID == "" {
		clientID = ClientID(prefix)
	}
	b := e.Config.Broker
	return bus.NewMQTT(bus.MQTTOptions{
		Host:           b.Address,
		Port:           b.Port,
		ClientID:       clientID,
		ConnectTimeout: b.ConnectTimeout,
		QoS:            byte(b.QoS),
	}, e.Log)
}
