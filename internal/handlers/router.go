package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/collab/internal/auth"
	"github.com/kartikbazzad/bunbase/collab/internal/metrics"
	"github.com/kartikbazzad/bunbase/collab/internal/middleware"
	"github.com/kartikbazzad/bunbase/collab/internal/services"
	"github.com/kartikbazzad/bunbase/collab/internal/store"
)

// Deps is everything the router serves.
type Deps struct {
	Auth       *auth.Service
	Verifier   auth.Verifier
	Projects   *services.ProjectService
	Messages   store.Messages
	Snapshots  SnapshotStore
	Rooms      RoomUpdater
	WebSocket  gin.HandlerFunc
	CORSOrigin string
}

// NewRouter builds the HTTP surface.
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware(d.CORSOrigin))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	if d.WebSocket != nil {
		router.GET("/ws", d.WebSocket)
	}

	api := router.Group("/api")

	authHandler := NewAuthHandler(d.Auth)
	authRoutes := api.Group("/auth")
	authRoutes.Use(middleware.AuthRateLimitMiddleware())
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
	}

	usersAPI := api.Group("/users")
	usersAPI.Use(middleware.AuthMiddleware(d.Verifier))
	{
		usersAPI.GET("", authHandler.ListUsers)
		usersAPI.GET("/me", authHandler.Me)
	}

	projectHandler := NewProjectHandler(d.Projects, d.Rooms)
	messageHandler := NewMessageHandler(projectHandler, d.Messages)
	snapshotHandler := NewSnapshotHandler(projectHandler, d.Snapshots)

	projectsAPI := api.Group("/projects")
	projectsAPI.Use(middleware.AuthMiddleware(d.Verifier))
	{
		projectsAPI.GET("", projectHandler.ListProjects)
		projectsAPI.POST("", projectHandler.CreateProject)
		projectsAPI.GET("/:id", projectHandler.GetProject)
		projectsAPI.PUT("/:id/members", projectHandler.AddMembers)

		projectsAPI.PUT("/:id/file-tree", projectHandler.ReplaceFileTree)
		projectsAPI.PATCH("/:id/file-tree", projectHandler.MergeFileTree)
		projectsAPI.PUT("/:id/files/content", projectHandler.SetFileContent)
		projectsAPI.POST("/:id/files", projectHandler.CreateFile)
		projectsAPI.POST("/:id/folders", projectHandler.CreateFolder)
		projectsAPI.DELETE("/:id/files", projectHandler.DeleteFile)

		projectsAPI.GET("/:id/messages", messageHandler.ListMessages)

		projectsAPI.GET("/:id/snapshots", snapshotHandler.ListSnapshots)
		projectsAPI.POST("/:id/snapshots", snapshotHandler.CreateSnapshot)
		projectsAPI.POST("/:id/snapshots/restore", snapshotHandler.RestoreSnapshot)
	}

	return router
}
