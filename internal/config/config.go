package config

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Defaults for Server and Agent.
const (
	DefaultPort            = 3000
	DefaultHost            = "0.0.0.0"
	DefaultRedisChannel    = "collabtext:session"
	DefaultServiceName     = "_collabtext._tcp"
	DefaultSendBuffer      = 256
	DefaultMaxMessageBytes = 100 << 20
	DefaultWriteTimeout    = 10 * time.Second
	DefaultPongTimeout     = 60 * time.Second
	DefaultLogLevel        = "info"
)

// Server configures the session server.
type Server struct {
	Host      string
	Port      int
	StaticDir string
	LogLevel  string

	// Per-connection transport limits.
	SendBuffer      int
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	PongTimeout     time.Duration

	// Optional event mirror sinks; empty disables them.
	RedisAddr    string
	RedisChannel string
	DatabaseURL  string

	// Advertise registers the server over mDNS.
	Advertise   bool
	ServiceName string
}

// Agent configures the headless participant.
type Agent struct {
	URL             string
	Name            string
	LogLevel        string
	ServiceName     string
	DiscoverTimeout time.Duration
	MaxElapsed      time.Duration
}

// DefaultServer returns the server settings used when nothing overrides them.
func DefaultServer() Server {
	return Server{
		Host:            DefaultHost,
		Port:            DefaultPort,
		LogLevel:        DefaultLogLevel,
		SendBuffer:      DefaultSendBuffer,
		MaxMessageBytes: DefaultMaxMessageBytes,
		WriteTimeout:    DefaultWriteTimeout,
		PongTimeout:     DefaultPongTimeout,
		RedisChannel:    DefaultRedisChannel,
		ServiceName:     DefaultServiceName,
	}
}

// DefaultAgent returns the agent settings used when no flags are given.
func DefaultAgent() Agent {
	return Agent{
		LogLevel:        DefaultLogLevel,
		ServiceName:     DefaultServiceName,
		DiscoverTimeout: 5 * time.Second,
		MaxElapsed:      2 * time.Minute,
	}
}

// ServerFromEnv overlays PORT, REDIS_ADDR, DATABASE_URL, STATIC_DIR and
// LOG_LEVEL onto the defaults.
func ServerFromEnv(getenv func(string) string) (Server, error) {
	c := DefaultServer()
	if v := getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return c, errors.Wrapf(err, "PORT %q", v)
		}
		c.Port = p
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := getenv("STATIC_DIR"); v != "" {
		c.StaticDir = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return c, nil
}

// Addr is the host:port the HTTP server listens on.
func (c Server) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Validate reports the first setting that cannot be used.
func (c Server) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("port %d out of range", c.Port)
	}
	if c.SendBuffer <= 0 {
		return errors.Errorf("send buffer must be positive, got %d", c.SendBuffer)
	}
	if c.MaxMessageBytes <= 0 {
		return errors.Errorf("max message bytes must be positive, got %d", c.MaxMessageBytes)
	}
	if c.WriteTimeout <= 0 || c.PongTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.RedisAddr != "" && c.RedisChannel == "" {
		return errors.New("redis channel required when redis is enabled")
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c Agent) Validate() error {
	if c.URL == "" && c.ServiceName == "" {
		return errors.New("either a server url or an mDNS service name is required")
	}
	if c.DiscoverTimeout <= 0 {
		return errors.New("discover timeout must be positive")
	}
	return nil
}
