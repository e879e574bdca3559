// Package health runs periodic liveness checks against the exchange
// and the host machine while the bot trades live.
package health

import (
	"context"
	"fmt"
	"time"

	"grid-trading-bot-go/internal/events"
	"grid-trading-bot-go/internal/logger"
	"grid-trading-bot-go/internal/notify"
)

// ResourceUsage is a point-in-time sample of host resource consumption.
type ResourceUsage struct {
	CPUPercent    float64
	MemoryPercent float64
}

// ResourceSampler reports current host resource usage. Injected so the
// checker stays testable and free of platform-specific probing.
type ResourceSampler interface {
	Sample() (ResourceUsage, error)
}

// StatusProvider reports whether the trading venue is reachable.
type StatusProvider interface {
	GetExchangeStatus(ctx context.Context) (string, error)
}

// Checker periodically verifies exchange reachability and host
// resource headroom, raising alerts through the notifier and bus.
type Checker struct {
	exchange StatusProvider
	sampler  ResourceSampler
	notifier notify.Notifier
	bus      *events.Bus
	interval time.Duration

	cpuLimit float64
	memLimit float64
}

// NewChecker builds a health checker. A nil sampler disables resource
// checks; exchange checks always run.
func NewChecker(exchange StatusProvider, sampler ResourceSampler, notifier notify.Notifier, bus *events.Bus, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Checker{
		exchange: exchange,
		sampler:  sampler,
		notifier: notifier,
		bus:      bus,
		interval: interval,
		cpuLimit: 90,
		memLimit: 90,
	}
}

// Run blocks until ctx is canceled, performing one check per interval.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger.S().Infof("health checker started, interval %s", c.interval)
	for {
		select {
		case <-ctx.Done():
			logger.S().Info("health checker stopped")
			return
		case <-ticker.C:
			c.checkOnce(ctx)
		}
	}
}

func (c *Checker) checkOnce(ctx context.Context) {
	status, err := c.exchange.GetExchangeStatus(ctx)
	if err != nil || status != "ok" {
		msg := fmt.Sprintf("exchange status %q: %v", status, err)
		logger.S().Warnf("health check: %s", msg)
		c.bus.Publish(events.TopicExchangeUnreachable, msg)
		if err := c.notifier.Send("Exchange unreachable", msg); err != nil {
			logger.S().Warnf("health alert delivery failed: %v", err)
		}
	}

	if c.sampler == nil {
		return
	}
	usage, err := c.sampler.Sample()
	if err != nil {
		logger.S().Warnf("resource sampling failed: %v", err)
		return
	}
	if usage.CPUPercent > c.cpuLimit || usage.MemoryPercent > c.memLimit {
		msg := fmt.Sprintf("cpu %.1f%%, memory %.1f%%", usage.CPUPercent, usage.MemoryPercent)
		logger.S().Warnf("health check: resource pressure: %s", msg)
		c.bus.Publish(events.TopicHealthCheckFailed, msg)
		if err := c.notifier.Send("Resource pressure", msg); err != nil {
			logger.S().Warnf("health alert delivery failed: %v", err)
		}
	}
}
