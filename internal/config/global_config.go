package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v2"
)

const (
	DefaultListenAddr      = ":8069"
	DefaultStaticDir       = "./client"
	DefaultSensorsFile     = "sensors.txt"
	DefaultProfilesFile    = "profiles.txt"
	DefaultBaudrate        = 115200
	DefaultPollRate        = 30
	DefaultClientQueueSize = 64
	DefaultLogLevel        = "INFO"
	DefaultTopicPrefix     = "fsr"
)

// Environment overrides, applied after the file is read.
const (
	EnvListenAddr = "FSR_LISTEN_ADDR"
	EnvPollRate   = "FSR_POLL_RATE"
	EnvBaudrate   = "FSR_BAUDRATE"
	EnvLogLevel   = "FSR_LOG_LEVEL"
	EnvMqttBroker = "FSR_MQTT_BROKER"
)

// LoadConfig reads the YAML file at path. An empty path yields the defaults.
func LoadConfig(path string) (*BridgeConfig, error) {
	cfg := struct {
		FsrBridge BridgeConfig `yaml:"FsrBridge"`
	}{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	c := &cfg.FsrBridge
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return c, nil
}

func (c *BridgeConfig) applyEnv() error {
	if v := os.Getenv(EnvListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvMqttBroker); v != "" {
		c.Mqtt.Broker = v
	}
	if v := os.Getenv(EnvPollRate); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPollRate, err)
		}
		c.PollRate = n
	}
	if v := os.Getenv(EnvBaudrate); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBaudrate, err)
		}
		c.Baudrate = n
	}
	return nil
}

func (c *BridgeConfig) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.StaticDir == "" {
		c.StaticDir = DefaultStaticDir
	}
	if c.SensorsFile == "" {
		c.SensorsFile = DefaultSensorsFile
	}
	if c.ProfilesFile == "" {
		c.ProfilesFile = DefaultProfilesFile
	}
	if c.Baudrate <= 0 {
		c.Baudrate = DefaultBaudrate
	}
	if c.PollRate <= 0 {
		c.PollRate = DefaultPollRate
	}
	if c.ClientQueueSize <= 0 {
		c.ClientQueueSize = DefaultClientQueueSize
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Mqtt.TopicPrefix == "" {
		c.Mqtt.TopicPrefix = DefaultTopicPrefix
	}
	if c.Mqtt.KeepAliveSec <= 0 {
		c.Mqtt.KeepAliveSec = 60
	}
	if c.Mqtt.ConnectTimeoutSec <= 0 {
		c.Mqtt.ConnectTimeoutSec = 10
	}
}

// PollInterval is the period between value polls.
func (c *BridgeConfig) PollInterval() time.Duration {
	return time.Second / time.Duration(c.PollRate)
}

// GetPort returns the port settings for name, falling back to the
// device node of the same name at the global baud rate.
func (c *BridgeConfig) GetPort(name string) Port {
	p := Port{Name: name}
	for _, o := range c.Ports {
		if o.Name == name {
			p = o
			break
		}
	}
	if p.Device == "" {
		p.Device = name
	}
	if p.Baudrate <= 0 {
		p.Baudrate = c.Baudrate
	}
	return p
}
