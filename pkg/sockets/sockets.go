package sockets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval   = 30 * time.Second
	defaultPongWait       = 10 * time.Second
	defaultMaxMessageSize = 64 * 1024
	defaultSendBuffer     = 256
)

var (
	ErrClosed         = errors.New("closed connection")
	ErrSendBufferFull = errors.New("send buffer full")
)

type Connection interface {
	Send(body []byte) error
	SendJSON(v any) error
	Done() <-chan struct{}
	Close() error
}

var _ Connection = (*Conn)(nil)

// Conn is a websocket connection with its own read and write pumps. Writes are
// queued on a bounded buffer and never block the caller.
type Conn struct {
	ws             *websocket.Conn
	sslSkipVerify  bool
	pingInterval   time.Duration
	pongWait       time.Duration
	maxMessageSize int64
	sendBuffer     int
	onError        func(err error)
	onMessage      func([]byte, Connection)
	onConnected    func(Connection)
	onClose        func(Connection)

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func New(opts ...func(*Conn)) *Conn {
	c := &Conn{
		pingInterval:   defaultPingInterval,
		pongWait:       defaultPongWait,
		maxMessageSize: defaultMaxMessageSize,
		sendBuffer:     defaultSendBuffer,
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.send = make(chan []byte, c.sendBuffer)
	return c
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// origins are handled by the CORS middleware
		return true
	},
}

// Accept upgrades an HTTP request and starts the pumps.
func (c *Conn) Accept(w http.ResponseWriter, r *http.Request) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c.start(ws)
	return nil
}

// Dial connects to url and starts the pumps.
func (c *Conn) Dial(ctx context.Context, url string) error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.sslSkipVerify,
		},
	}
	ws, res, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if res != nil {
			return fmt.Errorf("dial %s: %s: %w", url, res.Status, err)
		}
		return fmt.Errorf("dial %s: %w", url, err)
	}
	c.start(ws)
	return nil
}

func (c *Conn) start(ws *websocket.Conn) {
	c.ws = ws
	go c.writePump()
	if c.onConnected != nil {
		c.onConnected(c)
	}
	go c.readPump()
}

func (c *Conn) Send(body []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- body:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Conn) SendJSON(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(body)
}

// Done is closed once the connection has been closed by either side.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Closes the connection.
func (c *Conn) Close() error {
	c.close()
	return nil
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = c.ws.Close()
		}
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

func (c *Conn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(c.maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pingInterval + c.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pingInterval + c.pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if c.onError != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.onError(err)
			}
			return
		}
		// any inbound frame proves the peer is alive
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pingInterval + c.pongWait))
		if c.onMessage != nil {
			c.onMessage(msg, c)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.pongWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				if c.onError != nil {
					c.onError(err)
				}
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.pongWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
