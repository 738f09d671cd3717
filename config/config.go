package config

import (
	"flag"
	"fmt"
)

// Config holds all server configuration.
type Config struct {
	Host           string
	Port           int
	ReadTimeout    int // seconds
	WriteTimeout   int // seconds
	IdleTimeout    int // seconds
	MaxConnections int
	MaxBodySize    int64
	Env            string
}

// EnvPrefix namespaces the environment variables the Manager overlays on
// top of flags, e.g. MICROSERVER_PORT.
const EnvPrefix = "MICROSERVER"

// New loads configuration from flags, then overlays environment variables.
func New() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Host, "host", "127.0.0.1", "bind address")
	flag.IntVar(&cfg.Port, "port", 8080, "HTTP server port")
	flag.IntVar(&cfg.ReadTimeout, "read-timeout", 10, "per-read timeout while a request is in flight (seconds)")
	flag.IntVar(&cfg.WriteTimeout, "write-timeout", 10, "response write timeout (seconds)")
	flag.IntVar(&cfg.IdleTimeout, "idle-timeout", 60, "keep-alive idle timeout (seconds)")
	flag.IntVar(&cfg.MaxConnections, "max-conns", 0, "max concurrent connections (0 = unlimited)")
	flag.Int64Var(&cfg.MaxBodySize, "max-body", 4<<20, "max request body size in bytes")
	flag.StringVar(&cfg.Env, "env", "development", "environment (development/production)")

	flag.Parse()

	m := NewManager()
	m.LoadFromEnv(EnvPrefix)
	cfg.applyOverrides(m)

	return cfg
}

// applyOverrides overlays Manager values (env or JSON sourced) on the
// flag-derived config.
func (c *Config) applyOverrides(m *Manager) {
	c.Host = m.GetString("host", c.Host)
	c.Port = m.GetInt("port", c.Port)
	c.ReadTimeout = m.GetInt("read.timeout", c.ReadTimeout)
	c.WriteTimeout = m.GetInt("write.timeout", c.WriteTimeout)
	c.IdleTimeout = m.GetInt("idle.timeout", c.IdleTimeout)
	c.MaxConnections = m.GetInt("max.conns", c.MaxConnections)
	c.MaxBodySize = m.GetInt64("max.body", c.MaxBodySize)
	c.Env = m.GetString("env", c.Env)
}

// Addr returns the host:port bind target.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
