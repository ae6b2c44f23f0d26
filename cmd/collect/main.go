package main

import (
	"context"
	"log"
	"time"

	"github.com/LJTian/FinNewsRadar/internal/analyzer"
	"github.com/LJTian/FinNewsRadar/internal/collector"
	"github.com/LJTian/FinNewsRadar/internal/config"
	"github.com/LJTian/FinNewsRadar/internal/notifier"
	"github.com/LJTian/FinNewsRadar/internal/pipeline"
	"github.com/LJTian/FinNewsRadar/internal/storage"
)

// 一个仅执行一轮采集的命令行入口：适合手动触发或外部调度器调用
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

	stats, err := p.RunCycle(context.Background())
	if err != nil {
		log.Fatalf("cycle failed: %v", err)
	}
	log.Printf("cycle summary: %s", stats)
}

// buildFetchers 按配置名单注册启用的采集器（与 cmd/api 保持一致）
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
	return fetchers
}
