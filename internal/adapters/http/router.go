package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/prepview/interview-bot/internal/config"
	"github.com/prepview/interview-bot/internal/session"
)

// SetupRouter exposes the bot control API: dispatch a bot into a room,
// check whether one is running, and kick it out.
func SetupRouter(cfg *config.Config, reg *session.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": reg.Len()})
	})

	api := r.Group("/api")

	api.POST("/interviews/:roomID/bot", func(c *gin.Context) {
		roomID := c.Param("roomID")
		if !reg.Admit(roomID) {
			log.Warn().Str("module", "adapters.http").Str("room", roomID).Msg("bot dispatch refused")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "session refused", "roomId": roomID})
			return
		}
		log.Info().Str("module", "adapters.http").Str("room", roomID).Msg("bot dispatched")
		c.JSON(http.StatusAccepted, gin.H{"roomId": roomID})
	})

	api.GET("/interviews/:roomID/bot", func(c *gin.Context) {
		roomID := c.Param("roomID")
		_, active := reg.Get(roomID)
		c.JSON(http.StatusOK, gin.H{"roomId": roomID, "active": active})
	})

	api.DELETE("/interviews/:roomID/bot", func(c *gin.Context) {
		roomID := c.Param("roomID")
		reg.Remove(roomID)
		c.Status(http.StatusNoContent)
	})

	return r
}
