// Package httpchat exposes the relay as a synchronous JSON API: each request is
// submitted under a fresh address and answered with the first matching reply.
package httpchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"chatrelay/pkg/bridge"
	"chatrelay/pkg/bus"
	"chatrelay/pkg/channel"
	"chatrelay/pkg/config"
	"chatrelay/pkg/protocol"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	channelName     = "http"
	shutdownTimeout = 5 * time.Second
)

type Adapter struct {
	cfg          config.HTTPConfig
	replyTimeout time.Duration
	mailbox      *channel.Mailbox
	log          *slog.Logger

	// sessions holds tokens this adapter issued whose conversation is still open.
	mu       sync.Mutex
	sessions map[string]struct{}
}

type chatRequest struct {
	Text    string `json:"text"`
	Session string `json:"session"`
}

type chatResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	Text         string `json:"text"`
	EndSession   bool   `json:"end_session"`
	Session      string `json:"session"`
}

type bridgeRequest struct {
	Text string   `json:"text" binding:"required"`
	Tags []string `json:"tags"`
}

func NewAdapter(cfg config.HTTPConfig, log *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("channels.http.addr is required")
	}
	if log == nil {
		log = slog.Default()
	}

	replyTimeout := time.Duration(cfg.ReplyTimeout) * time.Second
	if replyTimeout <= 0 {
		replyTimeout = (config.DefaultRequestTimeoutSeconds + 30) * time.Second
	}

	return &Adapter{
		cfg:          cfg,
		replyTimeout: replyTimeout,
		mailbox:      channel.NewMailbox(),
		log:          log.With("component", "channel.http"),
		sessions:     make(map[string]struct{}),
	}, nil
}

func (a *Adapter) Name() string {
	return channelName
}

// Run serves the JSON API until ctx ends.
func (a *Adapter) Run(ctx context.Context, submitter channel.Submitter) error {
	if submitter == nil {
		return errors.New("submitter is required")
	}

	server := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.Handler(submitter),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	a.log.Info("HTTP channel started", "address", a.cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http channel: %w", err)
	}

	return nil
}

// Deliver hands a reply to the request waiting on its target address.
func (a *Adapter) Deliver(ctx context.Context, env bus.Envelope) error {
	return a.mailbox.Deliver(ctx, env)
}

// Handler builds the gin engine serving the channel routes.
func (a *Adapter) Handler(submitter channel.Submitter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), a.requestLogger())

	v1 := r.Group("/v1")
	v1.POST("/chat", a.chat(submitter))
	v1.POST("/bridge", a.bridge(submitter))
	v1.GET("/health", a.health(submitter))

	return r
}

func (a *Adapter) chat(submitter channel.Submitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		session := strings.TrimSpace(req.Session)
		if session != "" && !a.sessionOpen(session) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown session"})
			return
		}

		reply, acknowledged, submitted, err := a.roundTrip(c.Request.Context(), submitter,
			protocol.KindChatMessage, session, protocol.TextMessage(req.Text, false),
			protocol.KindChatMessage)
		if err != nil {
			a.writeError(c, err)
			return
		}

		msg, err := protocol.Decode[protocol.ChatMessage](reply)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		ended := protocol.EndsSession(msg)
		a.trackSession(submitted.Session, !ended)

		c.JSON(http.StatusOK, chatResponse{
			Acknowledged: acknowledged,
			Text:         protocol.ExtractText(msg),
			EndSession:   ended,
			Session:      submitted.Session,
		})
	}
}

func (a *Adapter) bridge(submitter channel.Submitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req bridgeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		reply, _, _, err := a.roundTrip(c.Request.Context(), submitter,
			protocol.KindBridgeRequest, "", protocol.BridgeRequest{OriginalText: req.Text, Tags: req.Tags},
			protocol.KindBridgeResponse, protocol.KindError)
		if err != nil {
			a.writeError(c, err)
			return
		}

		if reply.Kind == protocol.KindError {
			failure, err := protocol.Decode[protocol.ErrorMessage](reply)
			if err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": failure.Error})
			return
		}

		result, err := protocol.Decode[protocol.BridgeResponse](reply)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (a *Adapter) health(submitter channel.Submitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		reply, _, _, err := a.roundTrip(c.Request.Context(), submitter,
			protocol.KindHealthCheck, "", protocol.HealthCheck{},
			protocol.KindAgentHealth)
		if err != nil {
			a.writeError(c, err)
			return
		}

		health, err := protocol.Decode[protocol.AgentHealth](reply)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		status := http.StatusOK
		if health.Status != bridge.Healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, health)
	}
}

func (a *Adapter) sessionOpen(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sessions[token]
	return ok
}

// trackSession remembers token while its conversation stays open so a later
// request may continue it.
func (a *Adapter) trackSession(token string, open bool) {
	if token == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if open {
		a.sessions[token] = struct{}{}
		return
	}
	delete(a.sessions, token)
}

// roundTrip submits payload from a fresh address and waits for one of want.
func (a *Adapter) roundTrip(ctx context.Context, submitter channel.Submitter, kind bus.Kind, session string, payload any, want ...bus.Kind) (bus.Envelope, bool, bus.Envelope, error) {
	address := channel.Address(channelName, uuid.NewString())
	replies, closeBox := a.mailbox.Open(address)
	defer closeBox()

	env, err := protocol.Encode(kind, address, "", session, payload)
	if err != nil {
		return bus.Envelope{}, false, bus.Envelope{}, err
	}

	submitted, err := submitter.Submit(ctx, env)
	if err != nil {
		return bus.Envelope{}, false, submitted, fmt.Errorf("submit %s: %w", kind, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.replyTimeout)
	defer cancel()

	reply, acknowledged, err := channel.Await(waitCtx, replies, want...)
	return reply, acknowledged, submitted, err
}

func (a *Adapter) writeError(c *gin.Context, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timed out waiting for reply"})
		return
	}
	if errors.Is(err, context.Canceled) {
		c.Status(499)
		return
	}

	a.log.Error("Request failed", "error", err)
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
}

func (a *Adapter) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		a.log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
