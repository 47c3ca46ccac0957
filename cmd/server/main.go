package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jengzang/inkmap-backend-go/internal/api"
	"github.com/jengzang/inkmap-backend-go/internal/config"
	"github.com/jengzang/inkmap-backend-go/internal/database"
	"github.com/jengzang/inkmap-backend-go/internal/handler"
	"github.com/jengzang/inkmap-backend-go/internal/hub"
	"github.com/jengzang/inkmap-backend-go/internal/repository"
	"github.com/jengzang/inkmap-backend-go/internal/service"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化数据库
	if err := database.Init(database.Config{Path: cfg.DBPath}); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.Close()

	db := database.GetDB()
	if err := database.NewMigrationManager(db, cfg.MigrationsPath).RunMigrations(); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	// 仓储与服务
	strokeRepo := repository.NewStrokeRepository(db)
	pinRepo := repository.NewPinRepository(db)
	strokeService := service.NewStrokeService(strokeRepo)
	pinService := service.NewPinService(pinRepo)

	// 瓦片协调器注册表
	opts := hub.DefaultOptions()
	opts.MaxSubscribers = cfg.MaxSubscribersPerTile
	opts.UserEventsPerSec = cfg.UserEventsPerSec
	opts.TileEventsPerSec = cfg.TileEventsPerSec
	opts.IdleTimeout = cfg.IdleTimeout()
	opts.FlushInterval = cfg.FlushInterval()
	registry := hub.NewRegistry(strokeRepo, opts)

	// 收到退出信号时先冲刷各瓦片的待持久化批次
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down, flushing pending tile batches")
		registry.Shutdown()
		database.Close()
		os.Exit(0)
	}()

	// 初始化路由
	router := api.SetupRouter(cfg, api.Handlers{
		Stroke: handler.NewStrokeHandler(strokeService),
		Pin:    handler.NewPinHandler(pinService),
		Live:   handler.NewLiveHandler(registry),
	})

	// 启动服务器
	log.Printf("Server starting on port %s", cfg.Port)
	if err := router.Run(cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
