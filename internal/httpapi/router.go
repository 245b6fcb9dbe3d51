package httpapi

import "github.com/gin-gonic/gin"

// SetupRoutes wires the book/story surface, following the teacher's
// router.SetupRoutes shape of one function registering every group.
func SetupRoutes(router *gin.Engine, h *Handler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	books := router.Group("/api/books")
	{
		books.POST("", h.CreateBook)
		books.GET("/:id", h.GetBook)

		story := books.Group("/:id/story")
		story.GET("", h.GetSnapshot)
		story.POST("/start", h.Start)
		story.GET("/ready", h.Ready)
		story.POST("/next", h.Next) // body: {index}
		story.POST("/choose", h.Choose)
		story.GET("/search", h.Search)
	}
}
