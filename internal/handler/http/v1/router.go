package v1

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все маршруты API v1
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.Use(RequestIDMiddleware())

	// Отчеты и чтение инцидентов по API-ключу
	public := api.Group("", APIKeyAuthMiddleware(h.cfg, h.logger))
	{
		public.POST("/reports", h.limiter.Middleware(h.logger), h.submitReport)
		public.GET("/incidents/:id", h.getIncident)
	}

	// Операторские маршруты по JWT
	admin := api.Group("/admin", AdminJWTMiddleware(h.cfg, h.logger))
	{
		admin.POST("/incidents/:id/status", h.overrideStatus)
		admin.GET("/incidents/:id/audit", h.listAudit)
		admin.POST("/devices/:hash/ban", h.banDevice)
		admin.POST("/sweep", h.runSweep)
	}

	// Маршрут Health-check
	api.GET("/system/health", h.healthCheck)
}
