package api

import "github.com/gin-gonic/gin"

// SetupRoutes registers the REST endpoints on the router group.
func SetupRoutes(rg *gin.RouterGroup, h *Handler) {
	rg.GET("/agents", h.ListAgents)
	rg.GET("/tasks", h.ListTasks)
	rg.GET("/tasks/:id", h.GetTask)
	rg.GET("/tasks/:id/messages", h.ListTaskMessages)
}
