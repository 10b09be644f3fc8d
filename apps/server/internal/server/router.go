package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Nera26/pokerhub-sub001/apps/server/internal/gateway"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/ledger"
	"github.com/Nera26/pokerhub-sub001/apps/server/internal/room"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	errMissingGateway = errors.New("gateway dependency required")
	errMissingRooms   = errors.New("room manager dependency required")
)

type Dependencies struct {
	Gateway  *gateway.Gateway
	Rooms    *room.Manager
	Ledger   ledger.Store
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}
	if deps.Rooms == nil {
		return nil, errMissingRooms
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	h := &httpHandler{gateway: deps.Gateway, rooms: deps.Rooms, ledger: deps.Ledger, logger: logger}

	router.GET("/ws", gin.WrapF(deps.Gateway.HandleWebSocket))
	router.GET("/spectate", gin.WrapF(deps.Gateway.HandleSpectator))
	router.GET("/health", h.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/debug/rooms", h.handleRooms)
	if deps.Ledger != nil {
		router.GET("/tables/:tableId/hands", h.handleHands)
		router.GET("/hands/:handId", h.handleHand)
	}
	return router, nil
}

type httpHandler struct {
	gateway *gateway.Gateway
	rooms   *room.Manager
	ledger  ledger.Store
	logger  *zap.Logger
}

type roomsResponse struct {
	Queue gateway.QueueStats `json:"queue"`
	Rooms []room.Stats       `json:"rooms"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *httpHandler) handleRooms(c *gin.Context) {
	c.JSON(http.StatusOK, roomsResponse{Queue: h.gateway.QueueStats(), Rooms: h.rooms.Stats()})
}

func (h *httpHandler) handleHands(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	hands, err := h.ledger.FindHands(c.Request.Context(), c.Param("tableId"), limit)
	if err != nil {
		h.logger.Error("find hands failed", zap.String("table_id", c.Param("tableId")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hands": hands})
}

func (h *httpHandler) handleHand(c *gin.Context) {
	hand, err := h.ledger.FindHand(c.Request.Context(), c.Param("handId"))
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case err != nil:
		h.logger.Error("find hand failed", zap.String("hand_id", c.Param("handId")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
	default:
		c.JSON(http.StatusOK, hand)
	}
}
