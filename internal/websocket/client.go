// SyncRelay - Multi-tenant WebSocket Synchronization Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPingPeriod = 54 * time.Second
	defaultQueueSize  = 256
	defaultMaxMessage = 512 * 1024 // 512 KB
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("websocket client closed")

	// ErrQueueFull is returned by Send when the client is not keeping up.
	ErrQueueFull = errors.New("websocket send queue full")
)

// Options tunes one client socket.
type Options struct {
	MaxMessageSize int64
	SendQueueSize  int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// OptionsFrom maps the relay section of the application config.
func OptionsFrom(rc config.RelayConfig) Options {
	return Options{
		MaxMessageSize: rc.MaxMessageSize,
		SendQueueSize:  rc.SendQueueSize,
		WriteTimeout:   rc.WriteTimeout,
		PingInterval:   rc.PingInterval,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessage
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteWait
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingPeriod
	}
	return o
}

// pongWait is how long the peer may stay silent. Pings go out at 9/10 of it.
func (o Options) pongWait() time.Duration {
	return o.PingInterval * 10 / 9
}

// Client is one relay socket. Reads happen on the caller's goroutine through
// Receive; writes are queued and performed by a dedicated write pump.
type Client struct {
	conn *websocket.Conn
	opts Options
	send chan string

	closeOnce sync.Once
	done      chan struct{}
	pumpDone  chan struct{}
	closeMsg  []byte
}

// NewClient wraps an upgraded connection and starts its write pump.
func NewClient(conn *websocket.Conn, opts Options) *Client {
	opts = opts.withDefaults()
	c := &Client{
		conn:     conn,
		opts:     opts,
		send:     make(chan string, opts.SendQueueSize),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}

	c.conn.SetReadLimit(opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(opts.pongWait())); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(opts.pongWait()))
	})

	go c.writePump()
	return c
}

// Send queues payload as a text frame. It never blocks.
func (c *Client) Send(_ context.Context, payload string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Receive returns the next text frame. Binary frames are skipped. Any frame
// resets the read deadline.
func (c *Client) Receive(_ context.Context) (string, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.pongWait())); err != nil {
			return "", err
		}
		if mt != websocket.TextMessage {
			continue
		}
		return string(data), nil
	}
}

// Close flushes queued frames, sends a close frame with code and reason and
// closes the socket. Later calls are no-ops.
func (c *Client) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(c.done)

		select {
		case <-c.pumpDone:
		case <-time.After(c.opts.WriteTimeout):
		}
		err = c.conn.Close()
	})
	return err
}

// writePump pumps queued frames and pings to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		close(c.pumpDone)
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, []byte(payload)); err != nil {
				logging.Debug().Err(err).Msg("failed to write frame")
				c.abort()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.abort()
				return
			}

		case <-c.done:
			c.flush()
			if err := c.write(websocket.CloseMessage, c.closeMsg); err != nil {
				logging.Debug().Err(err).Msg("failed to write close message")
			}
			return
		}
	}
}

// flush writes frames still queued when Close was called.
func (c *Client) flush() {
	for {
		select {
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, []byte(payload)); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// abort tears the socket down after a write failure so the reader sees an
// error and the relay cleans the connection up.
func (c *Client) abort() {
	_ = c.conn.Close()
}
