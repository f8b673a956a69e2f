package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr    string
	LogLevel      string
	BridgeTimeout time.Duration
	RelayCount    int
	HistorySize   int

	DatabaseCfg *DatabaseConfig
	RedisCfg    *RedisConfig
	MqttCfg     *MqttConfig
	InfluxCfg   *InfluxConfig
	SocketCfg   *SocketConfig
}

type DatabaseConfig struct {
	URL              string
	MigrationsFolder string
	CleanupSchedule  string
	Retention        time.Duration
}

type RedisConfig struct {
	Addr string
	TTL  time.Duration
}

type MqttConfig struct {
	Host        string
	Username    string
	Password    string
	TopicPrefix string
}

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

type SocketConfig struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

// AgentConfig drives the device agent. It is read from the environment.
type AgentConfig struct {
	ServerURL         string        `env:"AGENT_SERVER_URL" envDefault:"ws://localhost:8000/ws"`
	DeviceID          string        `env:"AGENT_DEVICE_ID" envDefault:"HomeBoard1v00"`
	RelayCount        int           `env:"AGENT_RELAY_COUNT" envDefault:"8"`
	TelemetryInterval time.Duration `env:"AGENT_TELEMETRY_INTERVAL" envDefault:"10s"`
	AckDelayMax       time.Duration `env:"AGENT_ACK_DELAY_MAX" envDefault:"3s"`
	ReconnectDelay    time.Duration `env:"AGENT_RECONNECT_DELAY" envDefault:"5s"`
	Rooms             []string      `env:"AGENT_ROOMS" envSeparator:","`
	ModbusAddr        string        `env:"AGENT_MODBUS_ADDR"`
	ModbusSlaveID     uint8         `env:"AGENT_MODBUS_SLAVE_ID" envDefault:"1"`
	ModbusStartCoil   uint16        `env:"AGENT_MODBUS_START_COIL" envDefault:"0"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"INFO"`
}

func LoadAgentConfig() (*AgentConfig, error) {
	return loadAgentConfig(env.Options{})
}

func loadAgentConfig(opts env.Options) (*AgentConfig, error) {
	cfg, err := env.ParseAsWithOptions[AgentConfig](opts)
	if err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AgentConfig) Validate() error {
	switch {
	case c.ServerURL == "":
		return fmt.Errorf("agent config: server url is required")
	case c.DeviceID == "":
		return fmt.Errorf("agent config: device id is required")
	case c.RelayCount <= 0:
		return fmt.Errorf("agent config: relay count must be positive, got %d", c.RelayCount)
	case c.TelemetryInterval <= 0:
		return fmt.Errorf("agent config: telemetry interval must be positive, got %s", c.TelemetryInterval)
	}
	return nil
}
