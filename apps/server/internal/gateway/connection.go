package gateway

import (
	"sync"
	"time"

	"github.com/Nera26/pokerhub-sub001/apps/server/internal/auth"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/codec"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 65536
)

// transport is the write side of a socket; *websocket.Conn satisfies it.
type transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ActionOutcome is the idempotency record for an applied action.
type ActionOutcome struct {
	ActionID string    `json:"actionId"`
	TableID  string    `json:"tableId"`
	Version  string    `json:"version"`
	Tick     uint64    `json:"tick"`
	At       time.Time `json:"at"`
}

type pendingFrame struct {
	payload []byte
	attempt int
	timer   *time.Timer
}

// Connection is one client socket bound to a table for its lifetime.
type Connection struct {
	ID       string
	Identity auth.Identity

	gw        *Gateway
	ws        *websocket.Conn
	transport transport
	send      chan []byte
	seen      *lru.Cache[string, ActionOutcome]
	logger    *zap.Logger

	mu       sync.Mutex
	pending  map[string]*pendingFrame
	alerting bool
	closed   bool

	closeOnce sync.Once
	done      chan struct{}
}

func (c *Connection) PlayerID() string { return c.Identity.PlayerID }

func (c *Connection) TableID() string { return c.Identity.TableID }

// enqueue appends raw to the bounded outbound queue, dropping it when the
// queue is full.
func (c *Connection) enqueue(raw []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- raw:
	default:
		c.gw.metrics.queueDropped.Inc()
		c.gw.dropped.Add(1)
		c.logger.Warn("outbound queue full; dropping message", zap.Int("limit", cap(c.send)))
		return false
	}
	depth := len(c.send)
	c.gw.observeDepth(c, depth)
	threshold := c.gw.opts.QueueAlertThreshold
	switch {
	case threshold > 0 && depth >= threshold && !c.alerting:
		c.alerting = true
		c.logger.Warn("outbound queue above alert threshold", zap.Int("depth", depth), zap.Int("threshold", threshold))
	case depth < threshold:
		c.alerting = false
	}
	return true
}

func (c *Connection) depth() int { return len(c.send) }

func (c *Connection) emit(event string, data any) {
	raw, err := codec.Encode(event, "", data)
	if err != nil {
		c.logger.Error("encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(raw)
}

// emitTracked sends a frame that is resent until the client acks its frameId.
func (c *Connection) emitTracked(event string, data any) string {
	frameID := c.gw.newID()
	raw, err := codec.Encode(event, frameID, data)
	if err != nil {
		c.logger.Error("encode failed", zap.String("event", event), zap.Error(err))
		return ""
	}
	delays := c.gw.opts.RetryDelays
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ""
	}
	p := &pendingFrame{payload: raw}
	if len(delays) > 0 {
		p.timer = time.AfterFunc(delays[0], func() { c.retry(frameID) })
		c.pending[frameID] = p
	}
	c.mu.Unlock()
	c.enqueue(raw)
	return frameID
}

// retry resends an unacked frame. After the last resend the frame stays
// pending for one more final delay; only then is it counted as dropped.
func (c *Connection) retry(frameID string) {
	delays := c.gw.opts.RetryDelays
	c.mu.Lock()
	p, ok := c.pending[frameID]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	p.attempt++
	if p.attempt > len(delays) {
		delete(c.pending, frameID)
		c.mu.Unlock()
		c.gw.metrics.framesDropped.Inc()
		c.logger.Debug("frame dropped after retries", zap.String("frame_id", frameID), zap.Int("resends", len(delays)))
		return
	}
	p.timer = time.AfterFunc(delays[min(p.attempt, len(delays)-1)], func() { c.retry(frameID) })
	payload := p.payload
	c.mu.Unlock()

	c.gw.metrics.frameRetries.Inc()
	c.enqueue(payload)
}

// ack stops retries for frameID. Unknown ids are ignored.
func (c *Connection) ack(frameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[frameID]; ok {
		p.timer.Stop()
		delete(c.pending, frameID)
	}
}

func (c *Connection) pendingFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Connection) sendError(e *Error, actionID string) {
	c.emit(codec.EventError, codec.ErrorPayload{Code: string(e.Code), Message: e.Message, ActionID: actionID})
}

// close stops retries and the write pump. Safe to call more than once.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		for id, p := range c.pending {
			p.timer.Stop()
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Connection) readPump() {
	defer func() {
		c.gw.removeConnection(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Info("read error", zap.Error(err))
			}
			return
		}
		c.gw.handleMessage(c, message)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.transport.Close()
		c.gw.metrics.connDepth.DeleteLabelValues(c.ID)
	}()

	for {
		select {
		case message := <-c.send:
			c.gw.metrics.connDepth.WithLabelValues(c.ID).Set(float64(len(c.send)))
			c.transport.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.transport.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.transport.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.transport.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.transport.SetWriteDeadline(time.Now().Add(writeWait))
			c.transport.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
