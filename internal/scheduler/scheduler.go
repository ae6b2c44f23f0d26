package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/LJTian/FinNewsRadar/internal/pipeline"
	"github.com/robfig/cron/v3"
)

// Scheduler 按 cron 表达式周期性触发一轮采集。
// 上一轮未结束时跳过本次触发（不排队），与管线自身的互斥双保险。
type Scheduler struct {
	cron     *cron.Cron
	pipeline *pipeline.Pipeline
}

func New(spec string, p *pipeline.Pipeline) (*Scheduler, error) {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))

	s := &Scheduler{
		cron:     c,
		pipeline: p,
	}

	if _, err := c.AddFunc(spec, s.runOnce); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	// 延迟执行首轮采集，避开进程启动时的其它初始化
	const startupDelay = 15 * time.Second
	time.AfterFunc(startupDelay, func() {
		go s.runOnce()
	})
}

// Stop 停止后续触发；进行中的一轮自行跑完（入库逐条生效，无需回滚）
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce 对外暴露的单次执行入口，方便手动触发采集
func (s *Scheduler) RunOnce() {
	s.runOnce()
}

func (s *Scheduler) runOnce() {
	stats, err := s.pipeline.RunCycle(context.Background())
	if err != nil {
		if errors.Is(err, pipeline.ErrCycleSkipped) {
			log.Println("scheduler: cycle skipped, previous still running")
			return
		}
		log.Printf("scheduler: cycle failed: %v", err)
		return
	}
	log.Printf("scheduler: cycle summary: %s", stats)
}
