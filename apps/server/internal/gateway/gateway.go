package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Nera26/pokerhub-sub001/apps/server/internal/auth"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/clock"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/codec"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/coord"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/events"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/ledger"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/room"
	"github.com/Nera26/pokerhub-sub001/holdem"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Options struct {
	QueueLimit          int
	QueueAlertThreshold int
	SpectatorQueueLimit int

	SocketLimit int
	GlobalLimit int
	RateWindow  time.Duration

	ActionTimeout time.Duration
	DefaultAction holdem.ActionType

	// RetryDelays are the waits before each resend of an unacked frame.
	RetryDelays []time.Duration

	SnapshotInterval time.Duration
	SeenCacheSize    int
}

func DefaultOptions() Options {
	return Options{
		QueueLimit:          100,
		QueueAlertThreshold: 80,
		SpectatorQueueLimit: 50,
		SocketLimit:         30,
		GlobalLimit:         10000,
		RateWindow:          10 * time.Second,
		ActionTimeout:       30 * time.Second,
		DefaultAction:       holdem.ActionFold,
		RetryDelays: []time.Duration{
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
			1600 * time.Millisecond,
		},
		SnapshotInterval: 5 * time.Second,
		SeenCacheSize:    1024,
	}
}

// Dependencies are the collaborators a Gateway needs. Rooms and Store are
// required; the rest fall back to no-op implementations.
type Dependencies struct {
	Rooms      *room.Manager
	Store      coord.Store
	Ledger     ledger.Store
	Clock      *clock.Service
	Events     events.Sink
	Auth       *auth.Verifier
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// tableView is the gateway's per-table bookkeeping. mu serializes action
// handling so ticks follow application order.
type tableView struct {
	mu    sync.Mutex
	tick  uint64
	state holdem.State
	has   bool
	dirty bool
}

type Gateway struct {
	opts    Options
	rooms   *room.Manager
	store   coord.Store
	ledger  ledger.Store
	clock   *clock.Service
	events  events.Sink
	auth    *auth.Verifier
	logger  *zap.Logger
	metrics *metrics
	newID   func() string

	mu          sync.RWMutex
	connections map[string]*Connection
	byTable     map[string]map[*Connection]struct{}
	spectators  map[string]map[*Connection]struct{}
	tables      map[string]*tableView

	depthMax atomic.Int64
	dropped  atomic.Int64

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
	readers  sync.WaitGroup

	lifeMu   sync.Mutex
	stopping bool
}

func New(opts Options, deps Dependencies) (*Gateway, error) {
	if deps.Rooms == nil {
		return nil, fmt.Errorf("gateway: room manager is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("gateway: coordination store is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.NewMemory()
	}
	if deps.Events == nil {
		deps.Events = events.Nop()
	}
	if deps.Auth == nil {
		deps.Auth = auth.NewVerifier("")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New(0)
	}
	defaults := DefaultOptions()
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = defaults.QueueLimit
	}
	if opts.SpectatorQueueLimit <= 0 {
		opts.SpectatorQueueLimit = defaults.SpectatorQueueLimit
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = defaults.RateWindow
	}
	if opts.DefaultAction == "" {
		opts.DefaultAction = defaults.DefaultAction
	}
	if opts.SeenCacheSize <= 0 {
		opts.SeenCacheSize = defaults.SeenCacheSize
	}

	g := &Gateway{
		opts:        opts,
		rooms:       deps.Rooms,
		store:       deps.Store,
		ledger:      deps.Ledger,
		clock:       deps.Clock,
		events:      deps.Events,
		auth:        deps.Auth,
		logger:      deps.Logger.Named("gateway"),
		newID:       uuid.NewString,
		connections: make(map[string]*Connection),
		byTable:     make(map[string]map[*Connection]struct{}),
		spectators:  make(map[string]map[*Connection]struct{}),
		tables:      make(map[string]*tableView),
		done:        make(chan struct{}),
	}
	g.metrics = newMetrics(deps.Registerer, func() float64 { return float64(g.deepestQueue()) })
	g.metrics.queueLimit.Set(float64(opts.QueueLimit))
	g.metrics.queueThreshold.Set(float64(opts.QueueAlertThreshold))
	return g, nil
}

// Start restores snapshots and launches the clock relay and snapshot loop.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.loadSnapshots(ctx); err != nil {
		g.logger.Warn("snapshot restore failed", zap.Error(err))
	}
	g.clock.OnTick(g.broadcastClock)
	if g.opts.SnapshotInterval > 0 {
		g.wg.Add(1)
		go g.snapshotLoop()
	}
	return nil
}

// Close disconnects every client, waits for in-flight readers and
// background saves, then persists a final snapshot round.
func (g *Gateway) Close() {
	g.stopOnce.Do(func() {
		g.lifeMu.Lock()
		g.stopping = true
		g.lifeMu.Unlock()
		close(g.done)

		g.mu.Lock()
		conns := make([]*Connection, 0, len(g.connections))
		for _, c := range g.connections {
			conns = append(conns, c)
		}
		g.mu.Unlock()
		for _, c := range conns {
			g.removeConnection(c)
		}
		g.readers.Wait()
		g.wg.Wait()
		g.persistSnapshots()
	})
}

// goTracked runs fn on a goroutine Close waits for. It reports false once
// Close has started, and fn is not run.
func (g *Gateway) goTracked(fn func()) bool {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()
	if g.stopping {
		return false
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
	return true
}

// HandleWebSocket upgrades a player connection. Identity comes from the
// handshake and is fixed for the connection's life.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, err := g.auth.PlayerFromRequest(r)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, auth.ErrMissingIdentity) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}
	g.upgrade(w, r, id)
}

// HandleSpectator upgrades a read-only connection that receives public state.
func (g *Gateway) HandleSpectator(w http.ResponseWriter, r *http.Request) {
	id, err := g.auth.SpectatorFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.upgrade(w, r, id)
}

func (g *Gateway) upgrade(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade error", zap.Error(err))
		return
	}
	g.lifeMu.Lock()
	if g.stopping {
		g.lifeMu.Unlock()
		ws.Close()
		return
	}
	g.readers.Add(1)
	c := g.attach(id, ws)
	c.ws = ws
	g.lifeMu.Unlock()
	go func() {
		defer g.readers.Done()
		c.readPump()
	}()
	g.sendCurrentState(c)
}

// attach registers a connection writing to t and starts its write pump.
func (g *Gateway) attach(id auth.Identity, t transport) *Connection {
	limit := g.opts.QueueLimit
	if id.Spectator {
		limit = g.opts.SpectatorQueueLimit
	}
	seen, _ := lru.New[string, ActionOutcome](g.opts.SeenCacheSize)
	c := &Connection{
		ID:        g.newID(),
		Identity:  id,
		gw:        g,
		transport: t,
		send:      make(chan []byte, limit),
		seen:      seen,
		pending:   make(map[string]*pendingFrame),
		done:      make(chan struct{}),
	}
	c.logger = g.logger.With(zap.String("conn_id", c.ID), zap.String("table_id", id.TableID), zap.String("player_id", id.PlayerID))

	g.mu.Lock()
	g.connections[c.ID] = c
	index := g.byTable
	if id.Spectator {
		index = g.spectators
	}
	if index[id.TableID] == nil {
		index[id.TableID] = make(map[*Connection]struct{})
	}
	index[id.TableID][c] = struct{}{}
	total := len(g.connections)
	g.mu.Unlock()

	g.metrics.connections.Set(float64(total))
	c.logger.Info("client connected", zap.Bool("spectator", id.Spectator), zap.Int("total", total))
	go c.writePump()
	return c
}

func (g *Gateway) removeConnection(c *Connection) {
	g.mu.Lock()
	if _, ok := g.connections[c.ID]; !ok {
		g.mu.Unlock()
		c.close()
		return
	}
	delete(g.connections, c.ID)
	index := g.byTable
	if c.Identity.Spectator {
		index = g.spectators
	}
	if set := index[c.Identity.TableID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(index, c.Identity.TableID)
		}
	}
	total := len(g.connections)
	g.mu.Unlock()

	c.close()
	g.metrics.connDepth.DeleteLabelValues(c.ID)
	g.metrics.connections.Set(float64(total))
	c.logger.Info("client disconnected", zap.Int("total", total))
}

func (g *Gateway) handleMessage(c *Connection, raw []byte) {
	env, err := codec.Decode(raw)
	if err != nil {
		c.sendError(newError(CodeMalformed, "invalid message format", err), "")
		return
	}
	if env.Event == codec.EventFrameAck {
		var ack codec.FrameAck
		if err := codec.DecodeData(env, &ack); err == nil {
			c.ack(ack.FrameID)
		}
		return
	}
	if c.Identity.Spectator {
		c.sendError(newError(CodeUnauthorized, "spectators are read-only", nil), "")
		return
	}

	ctx := context.Background()
	switch env.Event {
	case codec.EventAction:
		var a holdem.Action
		if err := codec.DecodeData(env, &a); err != nil {
			c.sendError(newError(CodeMalformed, "invalid action payload", err), "")
			return
		}
		g.HandleAction(ctx, c, a)
	case codec.EventJoin, codec.EventBuyIn, codec.EventSitout, codec.EventRebuy:
		var req codec.ControlRequest
		if err := codec.DecodeData(env, &req); err != nil || req.ActionID == "" {
			c.sendError(newError(CodeMalformed, "actionId required", err), "")
			return
		}
		g.handleControl(ctx, c, env.Event, req)
	case codec.EventReplay:
		g.handleReplay(ctx, c)
	case codec.EventResume:
		var req codec.ResumeRequest
		_ = codec.DecodeData(env, &req)
		g.handleResume(ctx, c, req.From)
	default:
		c.sendError(newError(CodeMalformed, "unknown event "+env.Event, nil), "")
	}
}

// QueueStats is the outbound backpressure view for dashboards. Depth is the
// deepest current queue; Queues lists every connection.
type QueueStats struct {
	Depth          int               `json:"depth"`
	MaxDepth       int               `json:"maxDepth"`
	Limit          int               `json:"limit"`
	AlertThreshold int               `json:"alertThreshold"`
	Dropped        int64             `json:"dropped"`
	Connections    int               `json:"connections"`
	Queues         []ConnectionQueue `json:"queues"`
}

type ConnectionQueue struct {
	ConnID    string `json:"connId"`
	TableID   string `json:"tableId"`
	PlayerID  string `json:"playerId,omitempty"`
	Spectator bool   `json:"spectator,omitempty"`
	Depth     int    `json:"depth"`
	Limit     int    `json:"limit"`
}

func (g *Gateway) QueueStats() QueueStats {
	g.mu.RLock()
	queues := make([]ConnectionQueue, 0, len(g.connections))
	depth := 0
	for _, c := range g.connections {
		d := c.depth()
		depth = max(depth, d)
		queues = append(queues, ConnectionQueue{
			ConnID:    c.ID,
			TableID:   c.TableID(),
			PlayerID:  c.PlayerID(),
			Spectator: c.Identity.Spectator,
			Depth:     d,
			Limit:     cap(c.send),
		})
	}
	g.mu.RUnlock()
	sort.Slice(queues, func(i, j int) bool { return queues[i].ConnID < queues[j].ConnID })
	return QueueStats{
		Depth:          depth,
		MaxDepth:       int(g.depthMax.Load()),
		Limit:          g.opts.QueueLimit,
		AlertThreshold: g.opts.QueueAlertThreshold,
		Dropped:        g.dropped.Load(),
		Connections:    len(queues),
		Queues:         queues,
	}
}

func (g *Gateway) deepestQueue() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	depth := 0
	for _, c := range g.connections {
		depth = max(depth, c.depth())
	}
	return depth
}

// observeDepth records one connection's depth and the high-water mark.
func (g *Gateway) observeDepth(c *Connection, depth int) {
	g.metrics.connDepth.WithLabelValues(c.ID).Set(float64(depth))
	for {
		cur := g.depthMax.Load()
		if int64(depth) <= cur {
			break
		}
		if g.depthMax.CompareAndSwap(cur, int64(depth)) {
			g.metrics.queueMax.Set(float64(depth))
			break
		}
	}
}

func (g *Gateway) view(tableID string) *tableView {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.tables[tableID]
	if v == nil {
		v = &tableView{}
		g.tables[tableID] = v
	}
	return v
}

// Tick returns the gateway tick of tableID.
func (g *Gateway) Tick(tableID string) uint64 {
	v := g.view(tableID)
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tick
}

func (g *Gateway) members(tableID string) (players, spectators []*Connection) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for c := range g.byTable[tableID] {
		players = append(players, c)
	}
	for c := range g.spectators[tableID] {
		spectators = append(spectators, c)
	}
	return players, spectators
}

func (g *Gateway) broadcastClock(now time.Time) {
	g.mu.RLock()
	conns := make([]*Connection, 0, len(g.connections))
	for _, c := range g.connections {
		conns = append(conns, c)
	}
	g.mu.RUnlock()
	payload := codec.ClockPayload{Millis: now.UnixMilli()}
	for _, c := range conns {
		c.emit(codec.EventClock, payload)
	}
}
