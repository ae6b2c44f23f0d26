package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/LJTian/FinNewsRadar/internal/analyzer"
	"github.com/LJTian/FinNewsRadar/internal/api"
	"github.com/LJTian/FinNewsRadar/internal/collector"
	"github.com/LJTian/FinNewsRadar/internal/config"
	"github.com/LJTian/FinNewsRadar/internal/notifier"
	"github.com/LJTian/FinNewsRadar/internal/pipeline"
	"github.com/LJTian/FinNewsRadar/internal/scheduler"
	"github.com/LJTian/FinNewsRadar/internal/storage"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("init store failed: %v", err)
	}

	a := analyzer.New(cfg.KeywordLexiconPath, cfg.TagTaxonomyPath)
	n := notifier.New(cfg.DingTalkWebhook, cfg.DingTalkSecret, cfg.ImportanceThreshold, cfg.NotifyKeywords)
	p := pipeline.New(buildFetchers(cfg), a, store, n)
	p.SetFetchTimeout(time.Duration(cfg.FetchTimeoutSec) * time.Second)

	s, err := scheduler.New(cfg.CronSpec, p)
	if err != nil {
		log.Fatalf("init scheduler failed: %v", err)
	}
	s.Start()
	defer s.Stop()

	// 词表热更新：收到退出信号后停止监听
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		if err := a.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Printf("warn: lexicon watcher exit: %v", err)
		}
	}()

	r := gin.Default()
	apiServer := api.NewServer(store, p)
	apiServer.RegisterRoutes(r)

	addr := ":" + cfg.AppPort
	log.Printf("starting api server at %s ...", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server exit: %v", err)
	}
}

// buildFetchers 按配置名单注册启用的采集器
func buildFetchers(cfg *config.Config) []collector.Fetcher {
	var fetchers []collector.Fetcher
	for _, src := range cfg.Sources() {
		if !src.Enabled {
			continue
		}
		switch src.Name {
		case "eastmoney":
			fetchers = append(fetchers, &collector.EastmoneyFetcher{})
		case "stcn":
			fetchers = append(fetchers, &collector.StcnFetcher{})
		case "sina":
			fetchers = append(fetchers, &collector.SinaRSSFetcher{})
		default:
			log.Printf("warn: unknown source %q ignored", src.Name)
		}
	}
	if len(fetchers) == 0 {
		log.Println("warn: no sources enabled")
	}
	return fetchers
}
