package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trivia-bingo/internal/logger"
	"trivia-bingo/internal/protocol"
)

// MessageHandler receives messages from the host on a client.
type MessageHandler interface {
	HandleMessage(msg protocol.Message)
	Disconnected()
}

type ClientOptions struct {
	Heartbeat  time.Duration
	SendBuffer int
	Logger     *slog.Logger
}

// Client is the peer side of the transport: one connection to a host.
type Client struct {
	conn   *websocket.Conn
	opts   ClientOptions
	logger *slog.Logger
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// JoinURL turns "host" or "host:port" into the host's websocket URL.
func JoinURL(address string, defaultPort int) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(defaultPort))
	}
	return "ws://" + address + "/ws"
}

// Dial connects to a host websocket URL.
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 5 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 16
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		conn:   conn,
		opts:   opts,
		logger: opts.Logger,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.writeLoop()
	return c, nil
}

// Send queues one message for the host.
func (c *Client) Send(msg protocol.Message) error {
	raw, err := msg.Marshal()
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return fmt.Errorf("%w: connection closed", ErrSendFailure)
	default:
	}
	select {
	case c.send <- raw:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", ErrSendFailure)
	}
}

// Run reads until the connection ends, then reports the disconnection to
// handler. Malformed messages are logged and dropped.
func (c *Client) Run(ctx context.Context, handler MessageHandler) error {
	stop := context.AfterFunc(ctx, c.shutdown)
	defer stop()

	readWait := 3 * c.opts.Heartbeat
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPingHandler(func(data string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	var err error
	for {
		var raw []byte
		_, raw, err = c.conn.ReadMessage()
		if err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))

		msg, decodeErr := protocol.Decode(raw)
		if decodeErr != nil {
			c.logger.Warn("dropping malformed message", "err", decodeErr)
			continue
		}
		handler.HandleMessage(msg)
	}

	c.shutdown()
	handler.Disconnected()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("connection to host lost: %w", err)
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.shutdown()
	c.wg.Wait()
	return nil
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.logger.Warn("ws write error", "err", err)
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}
