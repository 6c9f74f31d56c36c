package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

func historyLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || n < 1 {
		return defaultHistoryLimit
	}
	return min(n, maxHistoryLimit)
}

func (s *Server) handleRecentGames(c *gin.Context) {
	if s.store == nil {
		respondError(c, errUnavailable)
		return
	}
	games, err := s.store.RecentGames(c.Request.Context(), historyLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": games, "count": len(games)})
}

func (s *Server) handleHistoryGame(c *gin.Context) {
	if s.store == nil {
		respondError(c, errUnavailable)
		return
	}
	g, err := s.store.Game(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) handlePlayerHistory(c *gin.Context) {
	if s.store == nil {
		respondError(c, errUnavailable)
		return
	}
	name := c.Param("name")
	entries, err := s.store.PlayerHistory(c.Request.Context(), name, historyLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"player": name, "games": entries, "count": len(entries)})
}

func (s *Server) handleListBans(c *gin.Context) {
	if s.store == nil {
		respondError(c, errUnavailable)
		return
	}
	bans := s.store.Bans()
	c.JSON(http.StatusOK, gin.H{"bans": bans, "count": len(bans)})
}

func (s *Server) handleAddBan(c *gin.Context) {
	if s.store == nil {
		respondError(c, errUnavailable)
		return
	}
	var req struct {
		Name   string `json:"name" binding:"required"`
		Reason string `json:"reason"`
		By     string `json:"by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if req.By == "" {
		req.By = "api"
	}
	if err := s.store.AddBan(c.Request.Context(), req.Name, req.Reason, req.By); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("name", req.Name).Str("client_ip", c.ClientIP()).Msg("API: player banned")
	c.JSON(http.StatusCreated, gin.H{"status": "banned", "name": req.Name})
}

func (s *Server) handleRemoveBan(c *gin.Context) {
	if s.store == nil {
		respondError(c, errUnavailable)
		return
	}
	removed, err := s.store.RemoveBan(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "not banned"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unbanned"})
}
