package config

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API       APIConfig
	WebSocket WebSocketConfig
	Chat      ChatConfig
	Server    ServerConfig
}

var (
	ConfigInstance *Config
	once           sync.Once
)

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type WebSocketConfig struct {
	URL               string
	HeartbeatInterval time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

type ChatConfig struct {
	PageSize int
	Token    string
}

// ServerConfig configures the bundled dev server
type ServerConfig struct {
	Host         string
	Port         string
	JWTSecret    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func LoadConfig() (*Config, error) {
	// Viper setup
	once.Do(func() {
		viper.SetDefault("LIVEWATCH_API_URL", "http://localhost:8080")
		viper.SetDefault("LIVEWATCH_API_TIMEOUT", 10*time.Second)
		viper.SetDefault("LIVEWATCH_WS_URL", "ws://localhost:8080/ws")
		viper.SetDefault("LIVEWATCH_WS_HEARTBEAT", 4*time.Second)
		viper.SetDefault("LIVEWATCH_WS_PONG_WAIT", 10*time.Second)
		viper.SetDefault("LIVEWATCH_WS_WRITE_WAIT", 10*time.Second)
		viper.SetDefault("LIVEWATCH_WS_RECONNECT_ATTEMPTS", 5)
		viper.SetDefault("LIVEWATCH_WS_RECONNECT_DELAY", 5*time.Second)
		viper.SetDefault("LIVEWATCH_PAGE_SIZE", 30)
		viper.SetDefault("LIVEWATCH_HOST", "")
		viper.SetDefault("LIVEWATCH_PORT", "8080")
		viper.SetDefault("LIVEWATCH_JWT_SECRET", "secret")
		viper.SetDefault("LIVEWATCH_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("LIVEWATCH_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("LIVEWATCH_IDLE_TIMEOUT", 60*time.Second)
		viper.AutomaticEnv()

		ConfigInstance = &Config{
			API: APIConfig{
				BaseURL: viper.GetString("LIVEWATCH_API_URL"),
				Timeout: viper.GetDuration("LIVEWATCH_API_TIMEOUT"),
			},
			WebSocket: WebSocketConfig{
				URL:               viper.GetString("LIVEWATCH_WS_URL"),
				HeartbeatInterval: viper.GetDuration("LIVEWATCH_WS_HEARTBEAT"),
				PongWait:          viper.GetDuration("LIVEWATCH_WS_PONG_WAIT"),
				WriteWait:         viper.GetDuration("LIVEWATCH_WS_WRITE_WAIT"),
				ReconnectAttempts: viper.GetInt("LIVEWATCH_WS_RECONNECT_ATTEMPTS"),
				ReconnectDelay:    viper.GetDuration("LIVEWATCH_WS_RECONNECT_DELAY"),
			},
			Chat: ChatConfig{
				PageSize: viper.GetInt("LIVEWATCH_PAGE_SIZE"),
				Token:    viper.GetString("LIVEWATCH_TOKEN"),
			},
			Server: ServerConfig{
				Host:         viper.GetString("LIVEWATCH_HOST"),
				Port:         viper.GetString("LIVEWATCH_PORT"),
				JWTSecret:    viper.GetString("LIVEWATCH_JWT_SECRET"),
				ReadTimeout:  viper.GetDuration("LIVEWATCH_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("LIVEWATCH_WRITE_TIMEOUT"),
				IdleTimeout:  viper.GetDuration("LIVEWATCH_IDLE_TIMEOUT"),
			},
		}
	})

	return ConfigInstance, nil
}
