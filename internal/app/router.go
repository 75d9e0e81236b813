package app

import (
	"studypath_backend/docs"
	"studypath_backend/internal/config"
	"studypath_backend/internal/middleware"
	"studypath_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 公共路由
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}

	// 需要登录的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		authGroup.GET("/profile", c.auth.Profile)

		// 流式生成
		generate := authGroup.Group("/generate")
		{
			generate.POST("/outline", c.generate.Outline)
			generate.POST("/subOutline", c.generate.SubOutline)
			generate.POST("/notes", c.generate.Notes)
			generate.POST("/quiz", c.generate.Quiz)
			generate.POST("/diveDeeper", c.generate.DiveDeeper)
		}

		// 内容树视图和进度
		authGroup.GET("/topics", c.topic.ListTopics)
		authGroup.GET("/topics/:id", c.topic.GetTopic)
		authGroup.GET("/topics/:id/subtopics", c.topic.ListSubtopics)
		authGroup.POST("/topics/:id/study-time", c.topic.AddStudyTime)
		authGroup.GET("/subtopics/:id/notes", c.topic.ListNotes)
		authGroup.GET("/notes/:id/dive-deeper", c.topic.ListDiveDeeper)
		authGroup.POST("/notes/:id/quiz/score", c.topic.SubmitQuizScore)
	}
}
