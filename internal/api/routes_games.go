package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/relayhost/internal/game"
	"github.com/energizer-project/relayhost/internal/host"
	"github.com/energizer-project/relayhost/internal/slot"
	"github.com/energizer-project/relayhost/internal/stats"
	"github.com/energizer-project/relayhost/internal/util"
)

var (
	errBadRequest     = errors.New("bad request")
	errPlayerNotFound = errors.New("no such player")
	errUnavailable    = errors.New("service unavailable")
)

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, host.ErrNoSuchGame), errors.Is(err, stats.ErrNotFound), errors.Is(err, errPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, game.ErrBadSlot),
		errors.Is(err, host.ErrUnknownMap), errors.Is(err, host.ErrBadGameName):
		return http.StatusBadRequest
	case errors.Is(err, host.ErrStopped), errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusConflict
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

func parseGameID(c *gin.Context) (uint32, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, errBadRequest
	}
	return uint32(id), nil
}

// withGame runs fn against the game named in the path on the reactor.
func (s *Server) withGame(c *gin.Context, fn func(g *game.Session) error) error {
	id, err := parseGameID(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	return s.host.Do(ctx, func(h *host.Host) error {
		g, err := h.Session(id)
		if err != nil {
			return err
		}
		return fn(g)
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.host.Status())
}

func (s *Server) handleSystemLoad(c *gin.Context) {
	load, err := util.GetLoad()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, load)
}

func (s *Server) handleCreateGame(c *gin.Context) {
	var req host.GameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Creator == "" {
		req.Creator = "api"
	}
	if err := s.host.QueueGameCreate(req); err != nil {
		respondError(c, err)
		return
	}

	log.Info().Str("game", req.Name).Str("map", req.Map).Str("client_ip", c.ClientIP()).Msg("API: game queued")
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "name": req.Name})
}

func (s *Server) handleGetGame(c *gin.Context) {
	id, err := parseGameID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	g, ok := s.host.Game(id)
	if !ok {
		respondError(c, host.ErrNoSuchGame)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) handleGetGameLag(c *gin.Context) {
	id, err := parseGameID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if s.lag == nil {
		respondError(c, errUnavailable)
		return
	}
	data, ok := s.lag.GameData(id)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"game_id": id, "total_episodes": 0})
		return
	}
	c.JSON(http.StatusOK, data)
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
	PID     uint8  `json:"pid"`
}

func (s *Server) handleChatAll(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	err := s.host.Do(c.Request.Context(), func(h *host.Host) error {
		h.SendAllChat(req.Message)
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handleGameChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	err := s.withGame(c, func(g *game.Session) error {
		if req.PID == 0 {
			g.SendAllChat(req.Message)
			return nil
		}
		if g.Player(req.PID) == nil {
			return errPlayerNotFound
		}
		g.SendChat(req.PID, req.Message)
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handleStartGame(c *gin.Context) {
	var req struct {
		Force bool `json:"force"`
	}
	_ = c.ShouldBindJSON(&req)

	err := s.withGame(c, func(g *game.Session) error {
		return g.StartCountdown(req.Force, time.Now())
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "counting down"})
}

func (s *Server) handleEndGame(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "ended by operator"
	}

	err := s.withGame(c, func(g *game.Session) error {
		g.Close(req.Reason)
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ending"})
}

func (s *Server) handleKick(c *gin.Context) {
	var req struct {
		PID    uint8  `json:"pid" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pid is required"})
		return
	}
	err := s.withGame(c, func(g *game.Session) error {
		if !g.KickPlayer(req.PID, req.Reason) {
			return errPlayerNotFound
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "kicked", "pid": req.PID})
}

func (s *Server) handleMute(c *gin.Context) {
	var req struct {
		PID   uint8 `json:"pid" binding:"required"`
		Muted bool  `json:"muted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pid is required"})
		return
	}
	err := s.withGame(c, func(g *game.Session) error {
		if !g.Mute(req.PID, req.Muted) {
			return errPlayerNotFound
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pid": req.PID, "muted": req.Muted})
}

type settingsRequest struct {
	LatencyMS *int    `json:"latency_ms"`
	SyncLimit *int    `json:"sync_limit"`
	HCL       *string `json:"hcl"`
}

func (s *Server) handleSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	applied := gin.H{}
	err := s.withGame(c, func(g *game.Session) error {
		if req.HCL != nil {
			if !g.SetHCL(*req.HCL) {
				return errBadRequest
			}
			applied["hcl"] = *req.HCL
		}
		if req.LatencyMS != nil {
			applied["latency_ms"] = g.SetLatency(*req.LatencyMS)
		}
		if req.SyncLimit != nil {
			applied["sync_limit"] = g.SetSyncLimit(*req.SyncLimit)
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, applied)
}

func (s *Server) handleSwapSlots(c *gin.Context) {
	var req struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	err := s.withGame(c, func(g *game.Session) error {
		return g.SwapSlots(req.A, req.B)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "swapped"})
}

var skillNames = map[string]slot.Skill{
	"easy":   slot.SkillEasy,
	"normal": slot.SkillNormal,
	"hard":   slot.SkillHard,
	"insane": slot.SkillHard,
}

type slotRequest struct {
	Kick   bool   `json:"kick"`
	Skill  string `json:"skill"`
	Colour *uint8 `json:"colour"`
}

func (s *Server) handleSlotAction(c *gin.Context) {
	var req slotRequest
	_ = c.ShouldBindJSON(&req)

	action := strings.ToLower(c.Param("action"))
	all := c.Param("slot") == "all"
	idx, err := strconv.Atoi(c.Param("slot"))
	if !all && err != nil {
		respondError(c, errBadRequest)
		return
	}

	err = s.withGame(c, func(g *game.Session) error {
		switch {
		case all && action == "open":
			return g.OpenAllSlots()
		case all && action == "close":
			return g.CloseAllSlots()
		case all && action == "shuffle":
			return g.ShuffleSlots()
		case all:
			return errBadRequest
		case action == "open":
			return g.OpenSlot(idx, req.Kick)
		case action == "close":
			return g.CloseSlot(idx, req.Kick)
		case action == "computer":
			skill := slot.SkillNormal
			if req.Skill != "" {
				sk, ok := skillNames[strings.ToLower(req.Skill)]
				if !ok {
					return errBadRequest
				}
				skill = sk
			}
			return g.ComputerSlot(idx, skill)
		case action == "colour" || action == "color":
			if req.Colour == nil {
				return errBadRequest
			}
			return g.ColourSlot(idx, *req.Colour)
		default:
			return errBadRequest
		}
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "action": action})
}
