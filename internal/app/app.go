package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studypath_backend/internal/config"
	"studypath_backend/internal/controller"
	"studypath_backend/internal/repository"
	"studypath_backend/internal/service"
	"studypath_backend/pkg/configwatcher"
	"studypath_backend/pkg/database"
	"studypath_backend/pkg/logger"
	"studypath_backend/pkg/monitoring"
	"studypath_backend/pkg/security"
	"studypath_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	Router *gin.Engine
	DB     *gorm.DB
	Redis  *redis.Client

	services *services
}

type repositories struct {
	user       *repository.UserRepository
	topic      *repository.TopicRepository
	subtopic   *repository.SubtopicRepository
	note       *repository.NoteRepository
	quiz       *repository.QuizRepository
	diveDeeper *repository.DiveDeeperRepository
}

type services struct {
	auth *service.AuthService
	ai   *service.AIService
	tree *service.TreeService
}

type controllers struct {
	auth     *controller.AuthController
	generate *controller.GenerateController
	topic    *controller.TopicController
	health   *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:       repository.NewUserRepository(db),
		topic:      repository.NewTopicRepository(db),
		subtopic:   repository.NewSubtopicRepository(db),
		note:       repository.NewNoteRepository(db),
		quiz:       repository.NewQuizRepository(db),
		diveDeeper: repository.NewDiveDeeperRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	ai := service.NewAIService(cfg.Model)
	return &services{
		auth: service.NewAuthService(repos.user, cfg),
		ai:   ai,
		tree: service.NewTreeService(ai,
			repos.topic, repos.subtopic, repos.note, repos.quiz, repos.diveDeeper, rdb),
	}
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:     controller.NewAuthController(s.auth),
		generate: controller.NewGenerateController(s.tree),
		topic:    controller.NewTopicController(s.tree),
		health:   controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 600
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config, configPath string) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		// Redis 只是缓存层，连不上降级为直连数据库
		logger.Log.Warn("Redis unavailable, content cache disabled", zap.Error(err))
		rdb = nil
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, rdb)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("studypath-backend", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers, repos, cfg)

	// 配置热加载：上游模型的 key/模型名可以不重启切换
	go configwatcher.WatchConfig(configPath, func(newCfg *config.Config) {
		services.ai.UpdateConfig(newCfg.Model)
		logger.Log.Info("model config reloaded",
			zap.String("model", newCfg.Model.Name),
			zap.String("baseUrl", newCfg.Model.BaseURL))
	})

	return app
}

func (a *App) Run() {
	defer logger.Log.Sync()

	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
