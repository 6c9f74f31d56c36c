package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/relayhost/internal/slot"
	"github.com/energizer-project/relayhost/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "relayhost",
		"version": Version,
	})
}

func (s *Server) handleServerInfo(c *gin.Context) {
	status := s.host.Status()
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"version":         Version,
		"games":           len(status.Games),
		"uptime":          util.FormatDuration(status.Uptime),
		"reconnect":       status.Reconnect,
		"hostname":        sysInfo.Hostname,
		"os":              sysInfo.OS,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}

// publicGame is the part of a lobby anyone may see.
type publicGame struct {
	ID        uint32 `json:"id"`
	Name      string `json:"name"`
	Map       string `json:"map"`
	Players   int    `json:"players"`
	OpenSlots int    `json:"open_slots"`
}

func (s *Server) handlePublicGames(c *gin.Context) {
	games := []publicGame{}
	for _, g := range s.host.Status().Games {
		if !g.Public || g.State != "lobby" {
			continue
		}
		open := 0
		for _, sl := range g.Slots {
			if sl.Status == slot.StatusOpen {
				open++
			}
		}
		games = append(games, publicGame{ID: g.ID, Name: g.Name, Map: g.Map, Players: len(g.Players), OpenSlots: open})
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}
