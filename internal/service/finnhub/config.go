package finnhub

import "time"

const (
	DefaultBaseURL      = "https://finnhub.io/api/v1"
	DefaultWebSocketURL = "wss://ws.finnhub.io"
)

// Config holds the primary provider settings for REST and the trade stream.
type Config struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url" default:"https://finnhub.io/api/v1"`
	Timeout time.Duration `yaml:"timeout" default:"10s"`
	// RequestsPerSecond caps raw request rate for this client.
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"1"`
	// AllowSynthetic serves deterministic stand-in data when APIKey is
	// empty. Without it every call fails with ErrNoCredential.
	AllowSynthetic bool `yaml:"allow_synthetic"`

	WebSocketURL string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
	PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
}
