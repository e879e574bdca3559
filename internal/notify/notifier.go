// Package notify delivers trading alerts to external channels.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"grid-trading-bot-go/internal/events"
	"grid-trading-bot-go/internal/logger"
	"grid-trading-bot-go/internal/order"
)

// Notifier sends a titled message to some destination.
type Notifier interface {
	Send(title, message string) error
}

// NoopNotifier discards every message. Used in backtests and when no
// webhook urls are configured.
type NoopNotifier struct{}

func (NoopNotifier) Send(string, string) error { return nil }

// WebhookNotifier posts alerts as JSON to a list of webhook urls.
type WebhookNotifier struct {
	urls   []string
	client *http.Client
}

// NewWebhookNotifier creates a notifier for the given urls.
func NewWebhookNotifier(urls []string) *WebhookNotifier {
	return &WebhookNotifier{
		urls:   urls,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert to every configured url. Failures on individual
// urls are logged, the first error is returned.
func (n *WebhookNotifier) Send(title, message string) error {
	payload, err := json.Marshal(map[string]string{
		"title":   title,
		"message": message,
	})
	if err != nil {
		return err
	}

	var firstErr error
	for _, u := range n.urls {
		resp, err := n.client.Post(u, "application/json", bytes.NewReader(payload))
		if err != nil {
			logger.S().Warnf("webhook push to %s failed: %v", u, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			err := fmt.Errorf("webhook %s returned status %d", u, resp.StatusCode)
			logger.S().Warnf("%v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ForConfig returns a webhook notifier when urls are configured,
// otherwise a no-op notifier.
func ForConfig(urls []string) Notifier {
	if len(urls) == 0 {
		return NoopNotifier{}
	}
	return NewWebhookNotifier(urls)
}

// Attach subscribes the notifier to trading events on the bus. Delivery
// happens through a buffered handoff so a slow webhook never blocks the
// publisher. The returned function unsubscribes and drains the queue.
func Attach(bus *events.Bus, n Notifier) func() {
	handler, stop := events.Buffered(func(data interface{}) {
		switch o := data.(type) {
		case *order.Order:
			if err := n.Send("Order filled", describeOrder(o)); err != nil {
				logger.S().Warnf("failed to send order notification: %v", err)
			}
		default:
			if err := n.Send("Trading event", fmt.Sprintf("%v", data)); err != nil {
				logger.S().Warnf("failed to send notification: %v", err)
			}
		}
	}, 64)

	tpHandler, tpStop := events.Buffered(func(data interface{}) {
		msg := "position liquidated"
		if o, ok := data.(*order.Order); ok && o != nil {
			msg = describeOrder(o)
		}
		if err := n.Send("Take profit / stop loss triggered", msg); err != nil {
			logger.S().Warnf("failed to send risk notification: %v", err)
		}
	}, 8)

	const name = "notifier"
	bus.Subscribe(events.TopicOrderFilled, name, handler)
	bus.Subscribe(events.TopicTakeProfit, name, tpHandler)
	bus.Subscribe(events.TopicStopLoss, name, tpHandler)

	return func() {
		bus.Unsubscribe(events.TopicOrderFilled, name)
		bus.Unsubscribe(events.TopicTakeProfit, name)
		bus.Unsubscribe(events.TopicStopLoss, name)
		stop()
		tpStop()
	}
}

func describeOrder(o *order.Order) string {
	return fmt.Sprintf("%s %s %.6f @ %.4f (status %s)",
		o.Side, o.Type, o.Filled, o.Average, o.Status)
}
