package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/inkmap-backend-go/internal/config"
	"github.com/jengzang/inkmap-backend-go/internal/handler"
	"github.com/jengzang/inkmap-backend-go/internal/middleware"
)

// Handlers collects the route targets the router wires up
type Handlers struct {
	Stroke *handler.StrokeHandler
	Pin    *handler.PinHandler
	Live   *handler.LiveHandler
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logger(), gin.Recovery())

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Inkmap Backend API is running",
		})
	})

	auth := middleware.RequireAuth(cfg.JWTSecret)
	limited := middleware.RateLimit(cfg.HTTPRateLimit, time.Duration(cfg.HTTPRateWindow)*time.Second)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 笔画相关接口
		strokes := api.Group("/strokes")
		{
			strokes.GET("", h.Stroke.GetViewport)
			strokes.POST("", auth, limited, h.Stroke.SubmitBatch)
			strokes.DELETE("/:id", auth, limited, h.Stroke.Delete)
		}

		// 图钉留言接口
		pins := api.Group("/pins")
		{
			pins.GET("", h.Pin.GetViewport)
			pins.POST("", auth, limited, h.Pin.Submit)
		}

		// 用户统计接口
		stats := api.Group("/stats")
		{
			stats.GET("/me", auth, h.Stroke.GetMyStats)
		}
	}

	// 瓦片直播会话（WebSocket）
	r.GET("/ws/tiles/:key", auth, h.Live.Join)

	return r
}
