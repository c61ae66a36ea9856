package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"slot-sync-backend/config"
	"slot-sync-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router. responses is flushed
// by the caller whenever a sync pass rewrites the data.
func NewRouter(h *Handler, cfg config.ServerConfig, responses *mw.ResponseCache) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger())

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	if responses == nil {
		responses = mw.NewResponseCache(time.Duration(cfg.CacheTTLSeconds) * time.Second)
	}
	caching := responses.Middleware()

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/groups", caching, GetGroups(h.store.DB(), h.loc))
		api.GET("/slots/resources", caching, h.GetResourceSlots)
		api.GET("/slots/groups", caching, h.GetGroupSlots)
		api.GET("/appointments", caching, h.GetAppointments)

		api.POST("/sync", h.PostSync)
		api.GET("/sync/runs", h.ListSyncRuns)
		api.GET("/sync/runs/:id", h.GetSyncRun)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}

// Healthz reports whether the database answers.
func (h *Handler) Healthz(c *gin.Context) {
	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
