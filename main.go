package main

import (
	"context"
	"log"
	"os"

	"excelanalyst/internal/api"
	"excelanalyst/internal/cache"
	"excelanalyst/internal/config"
	"excelanalyst/internal/logging"
	"excelanalyst/internal/redis"
	"excelanalyst/internal/service/ai"
	"excelanalyst/internal/sheet"
	"excelanalyst/internal/workspace"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfgPath := os.Getenv("EXCELANALYST_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.BasicConfig.Debug)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	initializer, err := ai.Factory(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init ai provider", zap.Error(err))
	}

	opts := workspace.Options{
		Parser:            sheet.NewParser(cfg.MaxUploadBytes(), logger),
		Initializer:       initializer,
		Locale:            cfg.BasicConfig.Locale,
		InitializeTimeout: cfg.InitializeTimeout(),
		SendTimeout:       cfg.SendTimeout(),
		Logger:            logger,
	}
	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("create redis client", zap.Error(err))
		}
		defer rdb.Close()
		opts.Cache = cache.NewTableCache(rdb, cfg.RedisTTL(), logger)
	}
	ws := workspace.New(opts)

	if !cfg.BasicConfig.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(logging.Middleware(logger), logging.Recovery(logger))
	router.MaxMultipartMemory = cfg.MaxUploadBytes()
	api.NewHandler(ws, cfg.MaxUploadBytes(), logger).RegisterRoutes(router)

	provider, _ := cfg.ActiveProvider()
	logger.Info("server starting",
		zap.String("addr", cfg.BasicConfig.ServerAddress),
		zap.String("provider", provider),
		zap.Bool("redis_cache", cfg.Redis.Enabled))
	if err := router.Run(cfg.BasicConfig.ServerAddress); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
