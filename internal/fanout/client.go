package fanout

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/curvewatch/indexer/internal/common"
	"github.com/curvewatch/indexer/internal/middleware"
	"github.com/curvewatch/indexer/internal/notify"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

const (
	frameSubscribed   = "subscribed"
	frameUnsubscribed = "unsubscribed"
	frameError        = "error"
)

var ErrInvalidAddress = errors.New("invalid token address")

type inboundMessage struct {
	Action  string `json:"action"`
	Scope   string `json:"scope"`
	Address string `json:"address,omitempty"`
	Token   string `json:"token,omitempty"`
}

type subscriptionAck struct {
	Scope   string `json:"scope"`
	Address string `json:"address,omitempty"`
}

type errorData struct {
	Message string `json:"message"`
}

// Client is one websocket connection. Only the write pump writes to conn;
// everything else goes through the send queue.
type Client struct {
	ID       string
	hub      *Hub
	conn     *websocket.Conn
	verifier middleware.ITokenVerifier
	// session is the account address authenticated at connect time, if any.
	session string

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	subMu sync.Mutex
	subs  map[notify.Target]struct{}

	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, verifier middleware.ITokenVerifier, session string, sendBuffer int) *Client {
	return &Client{
		ID:       uuid.NewString(),
		hub:      hub,
		conn:     conn,
		verifier: verifier,
		session:  session,
		send:     make(chan []byte, sendBuffer),
		subs:     make(map[notify.Target]struct{}),
	}
}

// enqueue queues frame without blocking and reports whether it was accepted.
func (c *Client) enqueue(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) track(target notify.Target) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs[target] = struct{}{}
}

func (c *Client) untrack(target notify.Target) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subs, target)
}

func (c *Client) targets() []notify.Target {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]notify.Target, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	return out
}

// Close unregisters the client and drops the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.hub.Unregister(c)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", c.ID).Msg("Websocket closed unexpectedly")
			}
			return
		}
		c.handle(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.replyError("malformed message")
		return
	}

	target, err := c.resolveTarget(msg)
	if err != nil {
		c.replyError(err.Error())
		return
	}

	switch msg.Action {
	case ActionSubscribe:
		if err := c.hub.Subscribe(c, target); err != nil {
			c.replyError(err.Error())
			return
		}
		c.reply(frameSubscribed, subscriptionAck{Scope: string(target.Scope), Address: target.Key})
	case ActionUnsubscribe:
		c.hub.Unsubscribe(c, target)
		c.reply(frameUnsubscribed, subscriptionAck{Scope: string(target.Scope), Address: target.Key})
	default:
		c.replyError("unknown action " + msg.Action)
	}
}

func (c *Client) resolveTarget(msg inboundMessage) (notify.Target, error) {
	switch notify.Scope(msg.Scope) {
	case notify.ScopePublic:
		return notify.Public(), nil
	case notify.ScopeToken:
		if !gethcommon.IsHexAddress(msg.Address) {
			return notify.Target{}, ErrInvalidAddress
		}
		return notify.Token(common.NormalizeAddress(msg.Address)), nil
	case notify.ScopeUser:
		address, err := c.authenticate(msg.Token)
		if err != nil {
			return notify.Target{}, err
		}
		return notify.User(address), nil
	default:
		return notify.Target{}, errors.New("unknown scope " + msg.Scope)
	}
}

// authenticate prefers a token sent with the message over the connect-time session.
func (c *Client) authenticate(token string) (string, error) {
	if token != "" {
		return c.verifier.Verify(token)
	}
	if c.session != "" {
		return c.session, nil
	}
	return "", ErrMissingToken
}

func (c *Client) reply(event string, data interface{}) {
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode reply frame")
		return
	}
	if !c.enqueue(frame) {
		log.Debug().Str("client", c.ID).Msg("Client send queue full, dropping reply")
	}
}

func (c *Client) replyError(message string) {
	c.reply(frameError, errorData{Message: message})
}
