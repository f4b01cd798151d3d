package router

import (
	"github.com/gin-gonic/gin"
	"ibhelm.app/agent/internal/http/handler"
)

func SetupRoutes(router *gin.Engine, status *handler.StatusHandler) {
	router.GET("/healthz", status.Health)
	router.GET("/triggers", status.ListTriggers)
}
