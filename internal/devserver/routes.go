package devserver

import "github.com/gin-gonic/gin"

// registerRoutes sets up all routes on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	// Client surface.
	router.GET("/ws", s.handleWS)
	router.POST("/upload", s.handleUpload)
	router.POST("/chat/:id/feedback", s.handleFeedback)
	router.POST("/chat/:id/request_manager", s.handleRequestManager)
	router.GET("/api/media/*path", s.handleMedia)

	// Operator surface.
	router.POST("/chat/:id/take", s.handleTake)
	router.POST("/chat/:id/reply", s.handleReply)
	router.POST("/chat/:id/close", s.handleClose)
}
