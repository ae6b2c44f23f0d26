package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LJTian/FinNewsRadar/internal/analyzer"
	"github.com/LJTian/FinNewsRadar/internal/collector"
	"github.com/LJTian/FinNewsRadar/internal/notifier"
	"github.com/LJTian/FinNewsRadar/internal/processor"
	"github.com/LJTian/FinNewsRadar/internal/storage"
)

// ErrCycleSkipped 上一轮还没结束时又触发了一轮：跳过而不是排队。
// 并发周期会绕过本轮内存去重集合，必须互斥。
var ErrCycleSkipped = errors.New("pipeline: previous cycle still running, skipped")

// 单个数据源一次抓取的超时
const defaultFetchTimeout = 40 * time.Second

// ItemStore 管线依赖的存储操作面
type ItemStore interface {
	ExistingCodes(codes []string) (map[string]bool, error)
	SaveBatch(items []processor.NewsItem) storage.BatchResult
	UpdateEnrichment(code string, e analyzer.Enrichment) error
	MarkNotifyState(code, state string, at time.Time) error
}

// Notifier 管线依赖的推送操作面
type Notifier interface {
	MaybeNotify(item processor.NewsItem, e analyzer.Enrichment) (notifier.Outcome, error)
}

// Stats 一轮采集的汇总统计；无论中途多少单点失败都会产出
type Stats struct {
	Fetched      int
	FetchErrors  int
	Malformed    int
	Duplicates   int // 本轮内碰撞 + 库内已存在 + 入库时冲突
	Inserted     int
	Enriched     int
	Notified     int
	Suppressed   int
	NotifyFailed int
	StoreFailed  int
}

func (s Stats) String() string {
	return fmt.Sprintf("fetched=%d fetchErrors=%d malformed=%d duplicates=%d inserted=%d enriched=%d notified=%d suppressed=%d notifyFailed=%d storeFailed=%d",
		s.Fetched, s.FetchErrors, s.Malformed, s.Duplicates, s.Inserted,
		s.Enriched, s.Notified, s.Suppressed, s.NotifyFailed, s.StoreFailed)
}

// Pipeline 跑通 采集 -> 归一化 -> 去重 -> 入库 -> 富化 -> 推送 的一轮流程。
// 各源抓取并发执行；归一化之后的处理按源顺序串行，
// 共享同一个本轮去重集合。
type Pipeline struct {
	fetchers []collector.Fetcher
	analyzer *analyzer.Analyzer
	store    ItemStore
	notifier Notifier

	fetchTimeout time.Duration
	running      atomic.Bool
	now          func() time.Time
}

func New(fetchers []collector.Fetcher, a *analyzer.Analyzer, store ItemStore, n Notifier) *Pipeline {
	return &Pipeline{
		fetchers:     fetchers,
		analyzer:     a,
		store:        store,
		notifier:     n,
		fetchTimeout: defaultFetchTimeout,
		now:          time.Now,
	}
}

// SetFetchTimeout 覆盖单源抓取超时；非正值保持默认
func (p *Pipeline) SetFetchTimeout(d time.Duration) {
	if d > 0 {
		p.fetchTimeout = d
	}
}

type fetchResult struct {
	source  string
	records []collector.RawRecord
	err     error
}

// RunCycle 执行一轮采集。单源失败、单条畸形、单次推送失败都不会
// 让本轮失败；只有存储层连接级错误会以 error 形式上抛。
func (p *Pipeline) RunCycle(ctx context.Context) (Stats, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Stats{}, ErrCycleSkipped
	}
	defer p.running.Store(false)

	log.Println("pipeline: cycle start")
	var stats Stats

	// 并发抓取：各源相互独立，失败只计数
	results := make([]fetchResult, len(p.fetchers))
	var wg sync.WaitGroup
	for i, f := range p.fetchers {
		wg.Add(1)
		go func(idx int, fetcher collector.Fetcher) {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
			defer cancel()
			records, err := fetcher.Fetch(fctx)
			results[idx] = fetchResult{source: fetcher.Name(), records: records, err: err}
		}(i, f)
	}
	wg.Wait()

	// 串行归一化 + 本轮内去重：所有源共享一个 seen 集合
	proc := processor.New(p.now())
	items := make([]processor.NewsItem, 0, 64)
	for _, res := range results {
		if res.err != nil {
			log.Printf("pipeline: fetch %s error: %v", res.source, res.err)
			stats.FetchErrors++
			continue
		}
		batch, bstats := proc.Process(res.source, res.records)
		stats.Fetched += len(res.records)
		stats.Malformed += bstats.Malformed
		stats.Duplicates += bstats.Duplicates
		items = append(items, batch...)
	}

	if len(items) == 0 {
		log.Printf("pipeline: cycle done, %s", stats)
		return stats, nil
	}

	// 库内去重：一次批量查询判定哪些 code 已存在
	codes := make([]string, 0, len(items))
	for _, it := range items {
		codes = append(codes, it.Code)
	}
	existing, err := p.store.ExistingCodes(codes)
	if err != nil {
		// 存储连接级失败：本轮无法继续，交给上层调度处置
		return stats, fmt.Errorf("pipeline: check existing codes: %w", err)
	}

	fresh := make([]processor.NewsItem, 0, len(items))
	for _, it := range items {
		if existing[it.Code] {
			stats.Duplicates++
			continue
		}
		fresh = append(fresh, it)
	}

	// 入库：逐条独立结局
	saved := p.store.SaveBatch(fresh)
	stats.Inserted = saved.Inserted
	stats.Duplicates += saved.Duplicates
	stats.Malformed += saved.Rejected
	stats.StoreFailed += saved.Failed

	// 富化 + 推送：只处理本轮真正新入库的条目
	for _, it := range fresh {
		if saved.Outcomes[it.Code] != storage.OutcomeInserted {
			continue
		}

		enr := p.analyzer.Enrich(it.Title, it.Content, it.Source)
		if err := p.store.UpdateEnrichment(it.Code, enr); err != nil {
			log.Printf("pipeline: update enrichment %s: %v", it.Code, err)
			stats.StoreFailed++
			continue
		}
		stats.Enriched++

		outcome, err := p.notifier.MaybeNotify(it, enr)
		switch outcome {
		case notifier.OutcomeSent:
			stats.Notified++
			p.markNotify(it.Code, storage.NotifyStateSent)
		case notifier.OutcomeSuppressed:
			stats.Suppressed++
			// 低于门槛的条目保持 not_sent
		case notifier.OutcomeFailed:
			log.Printf("pipeline: notify %s failed: %v", it.Code, err)
			stats.NotifyFailed++
			p.markNotify(it.Code, storage.NotifyStateFailed)
		}
	}

	log.Printf("pipeline: cycle done, %s", stats)
	return stats, nil
}

func (p *Pipeline) markNotify(code, state string) {
	if err := p.store.MarkNotifyState(code, state, p.now()); err != nil {
		log.Printf("pipeline: mark notify state %s=%s: %v", code, state, err)
	}
}
