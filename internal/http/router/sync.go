package router

import (
	"github.com/gin-gonic/gin"

	"trackmirror.app/syncd/internal/http/handler"
)

func SyncRouter(rg *gin.RouterGroup, h *handler.SyncHandler) {
	rg.POST("/initialize", h.Initialize)
	rg.POST("/pause", h.Pause)
	rg.POST("/resume", h.Resume)
	rg.POST("/reschedule", h.Reschedule)
	rg.POST("/trigger", h.Trigger)
	rg.GET("/status", h.Status)
}
