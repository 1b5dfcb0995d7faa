// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the presence service.
package server

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/gopresence/internal/protocol"
)

// RateLimitConfig defines the parameters for per-session frame rate limiting.
// A Burst of zero disables the limit.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings.
type Config struct {
	Host string
	Port string

	// HTTPAddr enables the HTTP side-channel (health, presence, WebSocket) when non-empty.
	HTTPAddr       string
	AllowedOrigins []string

	// MaxSessions caps concurrently registered sessions. Zero means unlimited.
	MaxSessions int
	// UniqueNames rejects a handshake whose identifier is already registered.
	UniqueNames bool

	MaxFrameSize     int
	SendBufferSize   int
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	ShutdownTimeout  time.Duration

	// AnnounceUser is the user name carried by join and leave announcements.
	AnnounceUser string

	RateLimit RateLimitConfig
}

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = "5000"
	defaultSendBufferSize  = 256
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultAnnounceUser    = "SERVER"
)

func defaultConfig() Config {
	return Config{
		Host: defaultHost,
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxFrameSize:    protocol.DefaultMaxLineSize,
		SendBufferSize:  defaultSendBufferSize,
		WriteTimeout:    defaultWriteTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		AnnounceUser:    defaultAnnounceUser,
		RateLimit: RateLimitConfig{
			RefillInterval: time.Second,
		},
	}
}

// sanitizeConfig replaces unusable values with defaults and returns a copy
// that shares no slices with cfg.
func sanitizeConfig(cfg Config) Config {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = defaultHost
	}
	cfg.Port = strings.TrimPrefix(strings.TrimSpace(cfg.Port), ":")
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if cfg.MaxSessions < 0 {
		cfg.MaxSessions = 0
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = protocol.DefaultMaxLineSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.HandshakeTimeout < 0 {
		cfg.HandshakeTimeout = 0
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if strings.TrimSpace(cfg.AnnounceUser) == "" {
		cfg.AnnounceUser = defaultAnnounceUser
	}

	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// ListenAddr returns the TCP address the acceptor binds.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set or invalid.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if host := os.Getenv("PRESENCE_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("PRESENCE_PORT"); port != "" {
		cfg.Port = port
	}
	if addr := os.Getenv("PRESENCE_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if origins := os.Getenv("PRESENCE_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSessions := os.Getenv("PRESENCE_MAX_SESSIONS"); maxSessions != "" {
		cfg.MaxSessions = parseIntValue(maxSessions, cfg.MaxSessions)
	}
	if unique := os.Getenv("PRESENCE_UNIQUE_NAMES"); unique != "" {
		cfg.UniqueNames = parseBoolValue(unique, cfg.UniqueNames)
	}
	if size := os.Getenv("PRESENCE_MAX_FRAME_SIZE"); size != "" {
		cfg.MaxFrameSize = parseIntValue(size, cfg.MaxFrameSize)
	}
	if buffer := os.Getenv("PRESENCE_SEND_BUFFER"); buffer != "" {
		cfg.SendBufferSize = parseIntValue(buffer, cfg.SendBufferSize)
	}
	if timeout := os.Getenv("PRESENCE_WRITE_TIMEOUT"); timeout != "" {
		cfg.WriteTimeout = parseDuration(timeout, cfg.WriteTimeout)
	}
	if timeout := os.Getenv("PRESENCE_HANDSHAKE_TIMEOUT"); timeout != "" {
		cfg.HandshakeTimeout = parseDuration(timeout, cfg.HandshakeTimeout)
	}
	if burst := os.Getenv("PRESENCE_RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("PRESENCE_RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

func parseBoolValue(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration strings ("750ms") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
