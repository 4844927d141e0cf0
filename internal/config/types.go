package config

// Port describes one serial device a pad is attached to.
type Port struct {
	Name     string `yaml:"name"`     // name used in sensors.txt
	Device   string `yaml:"device"`   // device node, defaults to Name
	Baudrate int    `yaml:"baudrate"` // defaults to BridgeConfig.Baudrate
}

// MqttConfig enables the optional broker mirror when Broker is set.
type MqttConfig struct {
	Broker            string `yaml:"Broker"` // tcp://host:port
	ClientID          string `yaml:"ClientID"`
	Username          string `yaml:"Username"`
	Password          string `yaml:"Password"`
	TopicPrefix       string `yaml:"TopicPrefix"`
	Qos               byte   `yaml:"Qos"`
	KeepAliveSec      int    `yaml:"KeepAliveSec"`
	ConnectTimeoutSec int    `yaml:"ConnectTimeoutSec"`
}

// BridgeConfig holds everything under the FsrBridge section.
type BridgeConfig struct {
	ListenAddr      string     `yaml:"ListenAddr"`
	StaticDir       string     `yaml:"StaticDir"`
	SensorsFile     string     `yaml:"SensorsFile"`
	ProfilesFile    string     `yaml:"ProfilesFile"`
	Baudrate        int        `yaml:"Baudrate"`
	PollRate        int        `yaml:"PollRate"` // value polls per second
	ClientQueueSize int        `yaml:"ClientQueueSize"`
	LogLevel        string     `yaml:"LogLevel"`
	Ports           []Port     `yaml:"Ports"`
	Mqtt            MqttConfig `yaml:"Mqtt"`
}
