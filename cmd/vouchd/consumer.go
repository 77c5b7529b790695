package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fuelcart/vouch/platform"
	"github.com/fuelcart/vouch/util"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/websocket"
)

const (
	gatewayPath       = "events"
	minReconnectDelay = time.Second
	maxReconnectDelay = time.Minute
)

// Consumer reads JSON encoded platform events from a websocket gateway,
// reconnecting with exponential backoff whenever the stream drops.
type Consumer struct {
	URL        string
	Token      string
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewConsumer(host, token string, disp *Dispatcher, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		URL:        util.WebsocketURL(host, gatewayPath),
		Token:      token,
		dispatcher: disp,
		logger:     logger.With("component", "gateway"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	delay := minReconnectDelay
	for {
		connected, err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = minReconnectDelay
		}
		c.logger.Warn("gateway stream ended, reconnecting", "err", err, "delay", delay)
		gatewayReconnects.Inc()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// consume runs one connection until it fails. It reports whether the dial
// succeeded.
func (c *Consumer) consume(ctx context.Context) (bool, error) {
	header := http.Header{
		"User-Agent": []string{fmt.Sprintf("vouchd/%s", versioninfo.Short())},
	}
	if c.Token != "" {
		header.Set("Authorization", "Bot "+c.Token)
	}
	c.logger.Info("subscribing to event gateway", "url", c.URL)
	con, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, header)
	if err != nil {
		return false, fmt.Errorf("subscribing to gateway failed (dialing): %w", err)
	}
	defer con.Close()

	// unblock ReadMessage on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			con.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			con.Close()
		case <-done:
		}
	}()

	for {
		mt, data, err := con.ReadMessage()
		if err != nil {
			return true, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		var evt platform.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			eventsRejected.WithLabelValues("gateway", "decode").Inc()
			c.logger.Warn("skipping undecodable gateway frame", "err", err, "size", len(data))
			continue
		}
		if err := validateEvent(&evt); err != nil {
			eventsRejected.WithLabelValues("gateway", "invalid").Inc()
			c.logger.Debug("skipping gateway event", "err", err)
			continue
		}
		if err := c.dispatcher.Submit(ctx, &evt, "gateway"); err != nil {
			return true, err
		}
	}
}
