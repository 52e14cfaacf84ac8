package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/flowdroplabs/flowdrop/api/handlers"
)

// VersionInfo is reported by the /version endpoint. Populated from LDFLAGS.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger     *slog.Logger
	ListenAddr string
	Handlers   *handlers.Handlers

	// Ready reports whether dependencies (the database, the pool source)
	// are reachable. Nil means always ready.
	Ready func(ctx context.Context) bool

	AllowedOrigins    []string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.Handlers == nil {
		return errors.New("handlers are required")
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	return nil
}
