package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/squares/pkg/log"
	"github.com/cuemby/squares/pkg/manager"
	"github.com/cuemby/squares/pkg/metrics"
	"github.com/cuemby/squares/pkg/squareboard"
	"github.com/cuemby/squares/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxTopLimit = 50

// Querier is the read side of the manager
type Querier interface {
	Summary(ctx context.Context) []manager.SummaryEntry
	TopMessages(color types.Color, authorID string, limit int) []manager.TopMessage
	MessageTally(messageID string) types.Tally
	UniqueReactors(messageID string) int
	UserTally(targetID, sourceID string) types.Tally
	UserScore(userID string) int
	SquareboardEntry(messageID string) (types.SquareboardEntry, bool)
}

// Server serves the read API, health endpoints and metrics
type Server struct {
	querier Querier
	router  *gin.Engine
	server  *http.Server
	logger  zerolog.Logger
}

// NewServer creates a new API server
func NewServer(q Querier) *Server {
	s := &Server{
		querier: q,
		router:  gin.New(),
		logger:  log.WithComponent("api"),
	}

	s.router.Use(gin.Recovery(), RequestLogger(s.logger), ReadOnly())

	s.router.GET("/health", gin.WrapF(metrics.HealthHandler()))
	s.router.GET("/ready", gin.WrapF(metrics.ReadyHandler()))
	s.router.GET("/live", gin.WrapF(metrics.LivenessHandler()))
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.router.Group("/v1")
	{
		v1.GET("/info", s.info)
		v1.GET("/leaderboard", s.leaderboard)
		v1.GET("/messages/:id", s.messageTally)
		v1.GET("/users/:id/tally", s.userTally)
		v1.GET("/users/:id/score", s.userScore)
		v1.GET("/top/:color", s.top)
	}

	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("API listening")
	metrics.UpdateComponent(metrics.ComponentAPI, true, "")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return fmt.Errorf("failed to serve API: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"description": types.Description(),
			"threshold":   squareboard.Threshold,
		},
	})
}

func (s *Server) leaderboard(c *gin.Context) {
	summary := s.querier.Summary(c.Request.Context())
	if len(summary) == 0 {
		c.JSON(http.StatusOK, gin.H{"data": []manager.SummaryEntry{}, "message": "nobody has received any squares yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) messageTally(c *gin.Context) {
	id := c.Param("id")
	tally := s.querier.MessageTally(id)

	data := gin.H{
		"message_id":      id,
		"tally":           tally,
		"unique_reactors": s.querier.UniqueReactors(id),
	}
	if entry, ok := s.querier.SquareboardEntry(id); ok {
		data["mirror_message_id"] = entry.MirrorMessageID
	}

	resp := gin.H{"data": data}
	if tally.Total() == 0 {
		resp["message"] = "message has no squares"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) userTally(c *gin.Context) {
	id := c.Param("id")
	source := c.Query("source")
	tally := s.querier.UserTally(id, source)

	resp := gin.H{"data": gin.H{"user_id": id, "source_id": source, "tally": tally}}
	if tally.Total() == 0 {
		resp["message"] = "user has not received any squares"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) userScore(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"user_id": id, "score": s.querier.UserScore(id)}})
}

func (s *Server) top(c *gin.Context) {
	color, err := types.ParseColor(c.Param("color"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(manager.DefaultTopLimit)))
	if limit < 1 {
		limit = manager.DefaultTopLimit
	}
	if limit > maxTopLimit {
		limit = maxTopLimit
	}

	top := s.querier.TopMessages(color, c.Query("author"), limit)
	if len(top) == 0 {
		c.JSON(http.StatusOK, gin.H{"data": []manager.TopMessage{}, "message": "no messages with " + color.String() + " squares"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": top})
}
