package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/LJTian/FinNewsRadar/internal/pipeline"
	"github.com/LJTian/FinNewsRadar/internal/storage"
	"github.com/gin-gonic/gin"
)

// Server 只读查询面 + 手动触发采集。其它工具（看板、CLI）
// 一律通过这里取数，不直连数据库。
type Server struct {
	store    *storage.Store
	pipeline *pipeline.Pipeline
}

func NewServer(store *storage.Store, p *pipeline.Pipeline) *Server {
	return &Server{store: store, pipeline: p}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/news", s.recentNews)
		v1.GET("/news/count", s.newsCount)
		v1.POST("/collect", s.collect)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) recentNews(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 20
	}

	items, err := s.store.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    items,
	})
}

func (s *Server) newsCount(c *gin.Context) {
	n, err := s.store.Count()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": "ok",
		"data": gin.H{"count": n},
	})
}

// collect 手动触发一轮采集；上一轮没跑完返回 409
func (s *Server) collect(c *gin.Context) {
	stats, err := s.pipeline.RunCycle(c.Request.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrCycleSkipped) {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "cycle_running",
				"message": "previous cycle still running",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": "ok",
		"data": stats,
	})
}
