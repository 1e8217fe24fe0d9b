package router

import (
	"github.com/gin-gonic/gin"

	"trackmirror.app/syncd/internal/http/handler"
	"trackmirror.app/syncd/internal/scheduler"
	"trackmirror.app/syncd/internal/store"
)

func SetupRoutes(router *gin.Engine, manager *scheduler.Manager, stores *store.Stores) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		syncHandler := handler.NewSyncHandler(manager, stores.SyncJobs(), stores.SyncStates(), stores.SyncLogs(), stores.Mirror())
		SyncRouter(v1.Group("/projects/:project_id/sync"), syncHandler)
	}
}
