package bootstrap

import (
	"context"
	"log"

	"engagement-chat-sdk/internal/config"
	"engagement-chat-sdk/internal/pkg/logger"
	"engagement-chat-sdk/pkg/chat/session"
	"engagement-chat-sdk/pkg/engagement"
	"engagement-chat-sdk/pkg/engagement/natsfeed"
)

// Container wires one engagement session's worth of the engine: event bus,
// optional NATS push feed, and the session manager. Constructed at session
// start, torn down with Close.
type Container struct {
	Config  *config.Config
	Logger  logger.ILogger
	Bus     *engagement.Bus
	Feed    *natsfeed.Feed
	Session *session.Manager
}

// NewContainer builds the engine around a host-supplied provider and UI
// delegate. The NATS feed is optional: without a reachable NATS the bus
// still works for tests and embedded use.
func NewContainer(cfg *config.Config, provider engagement.Provider, delegate session.UIDelegate) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event Bus
	bus := engagement.NewBus()

	// 3. Push feed (production only)
	var feed *natsfeed.Feed
	if cfg.App.NatsURL != "" {
		f, err := natsfeed.NewFeed(cfg.App.NatsURL, bus, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS push feed: %v", err)
		} else {
			feed = f
		}
	}

	// 4. Session engine
	mgr := session.NewManager(provider, bus, cfg.Engagement, delegate, sysLogger)

	return &Container{
		Config:  cfg,
		Logger:  sysLogger,
		Bus:     bus,
		Feed:    feed,
		Session: mgr,
	}
}

// Start runs the feed (when present) and the session engine.
func (c *Container) Start(ctx context.Context, durableName string) error {
	if c.Feed != nil {
		if err := c.Feed.Run(ctx, durableName); err != nil {
			return err
		}
	}
	return c.Session.Start(ctx)
}

// Close tears the session down in reverse order.
func (c *Container) Close() {
	if c.Feed != nil {
		c.Feed.Close()
	}
	c.Session.Close()
	if err := c.Bus.Close(); err != nil {
		log.Printf("[WARN] Event bus close: %v", err)
	}
	_ = c.Logger.Sync()
}
