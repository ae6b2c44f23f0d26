package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LJTian/FinNewsRadar/internal/analyzer"
	"github.com/LJTian/FinNewsRadar/internal/collector"
	"github.com/LJTian/FinNewsRadar/internal/notifier"
	"github.com/LJTian/FinNewsRadar/internal/processor"
	"github.com/LJTian/FinNewsRadar/internal/storage"
)

type fakeFetcher struct {
	name    string
	records []collector.RawRecord
	err     error
	block   chan struct{} // 非 nil 时阻塞到通道关闭
}

func (f *fakeFetcher) Name() string { return f.name }

func (f *fakeFetcher) Fetch(ctx context.Context) ([]collector.RawRecord, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, &collector.FetchError{Source: f.name, Err: ctx.Err()}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeStore struct {
	mu          sync.Mutex
	rows        map[string]processor.NewsItem
	enrichments map[string]analyzer.Enrichment
	notifyState map[string]string
	existErr    error
}

func newFakeStore(existingCodes ...string) *fakeStore {
	s := &fakeStore{
		rows:        make(map[string]processor.NewsItem),
		enrichments: make(map[string]analyzer.Enrichment),
		notifyState: make(map[string]string),
	}
	for _, c := range existingCodes {
		s.rows[c] = processor.NewsItem{Code: c}
	}
	return s
}

func (s *fakeStore) ExistingCodes(codes []string) (map[string]bool, error) {
	if s.existErr != nil {
		return nil, s.existErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for _, c := range codes {
		if _, ok := s.rows[c]; ok {
			out[c] = true
		}
	}
	return out, nil
}

func (s *fakeStore) SaveBatch(items []processor.NewsItem) storage.BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := storage.BatchResult{Outcomes: make(map[string]storage.InsertOutcome)}
	for _, it := range items {
		if it.Code == "" || it.Title == "" {
			result.Outcomes[it.Code] = storage.OutcomeRejected
			result.Rejected++
			continue
		}
		if _, ok := s.rows[it.Code]; ok {
			result.Outcomes[it.Code] = storage.OutcomeDuplicate
			result.Duplicates++
			continue
		}
		s.rows[it.Code] = it
		result.Outcomes[it.Code] = storage.OutcomeInserted
		result.Inserted++
	}
	return result
}

func (s *fakeStore) UpdateEnrichment(code string, e analyzer.Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrichments[code] = e
	return nil
}

func (s *fakeStore) MarkNotifyState(code, state string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyState[code] = state
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	attempts []string
	outcome  notifier.Outcome
	err      error
}

func (n *fakeNotifier) MaybeNotify(item processor.NewsItem, e analyzer.Enrichment) (notifier.Outcome, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.outcome == notifier.OutcomeSuppressed {
		return notifier.OutcomeSuppressed, nil
	}
	n.attempts = append(n.attempts, item.Code)
	return n.outcome, n.err
}

func newPipeline(fetchers []collector.Fetcher, store ItemStore, n Notifier) *Pipeline {
	a := analyzer.NewFromLexicons(&analyzer.KeywordLexicon{
		DefaultSourceWeight: 5,
		ScoreDivisor:        1, // 默认来源权重 5 不过 7 分门槛，测试里直接给高权重
		SourceWeights:       map[string]int{"热源": 9},
	}, nil)
	return New(fetchers, a, store, n)
}

func TestRunCycleCrossSourceCollision(t *testing.T) {
	// 两个源报同一条新闻（同 code），只应入库一条
	fetchers := []collector.Fetcher{
		&fakeFetcher{name: "a", records: []collector.RawRecord{{"code": "K1", "title": "同一条新闻"}}},
		&fakeFetcher{name: "b", records: []collector.RawRecord{{"code": "K1", "title": "同一条新闻"}}},
	}
	store := newFakeStore()
	n := &fakeNotifier{outcome: notifier.OutcomeSuppressed}

	stats, err := newPipeline(fetchers, store, n).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if stats.Inserted != 1 {
		t.Fatalf("inserted = %d, want 1", stats.Inserted)
	}
	if stats.Duplicates != 1 {
		t.Fatalf("duplicates = %d, want 1 (in-run collision)", stats.Duplicates)
	}
	if len(store.rows) != 1 {
		t.Fatalf("store rows = %d, want 1", len(store.rows))
	}
}

func TestRunCycleFetchErrorDoesNotBlockOtherSources(t *testing.T) {
	fetchers := []collector.Fetcher{
		&fakeFetcher{name: "broken", err: &collector.FetchError{Source: "broken", Err: errors.New("timeout")}},
		&fakeFetcher{name: "ok", records: []collector.RawRecord{{"code": "K2", "title": "正常新闻"}}},
	}
	store := newFakeStore()
	n := &fakeNotifier{outcome: notifier.OutcomeSuppressed}

	stats, err := newPipeline(fetchers, store, n).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if stats.FetchErrors != 1 {
		t.Fatalf("fetchErrors = %d, want 1", stats.FetchErrors)
	}
	if stats.Inserted != 1 {
		t.Fatalf("inserted = %d, want 1 from healthy source", stats.Inserted)
	}
	if _, ok := store.rows["K2"]; !ok {
		t.Fatalf("healthy source item not persisted")
	}
}

func TestRunCycleCrossCycleDuplicate(t *testing.T) {
	fetchers := []collector.Fetcher{
		&fakeFetcher{name: "a", records: []collector.RawRecord{{"code": "K3", "title": "旧闻"}}},
	}
	store := newFakeStore("K3") // 上一轮已入库
	n := &fakeNotifier{outcome: notifier.OutcomeSuppressed}

	stats, err := newPipeline(fetchers, store, n).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if stats.Inserted != 0 || stats.Duplicates != 1 {
		t.Fatalf("stats = %+v, want duplicate only", stats)
	}
}

func TestRunCycleNotifyStates(t *testing.T) {
	records := []collector.RawRecord{{"code": "HOT", "title": "重磅新闻"}}

	// 发送成功 -> sent
	store := newFakeStore()
	n := &fakeNotifier{outcome: notifier.OutcomeSent}
	p := newPipeline([]collector.Fetcher{&fakeFetcher{name: "热源", records: records}}, store, n)
	stats, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if stats.Notified != 1 || store.notifyState["HOT"] != storage.NotifyStateSent {
		t.Fatalf("stats=%+v state=%q", stats, store.notifyState["HOT"])
	}
	if len(n.attempts) != 1 {
		t.Fatalf("notify attempts = %d, want exactly 1", len(n.attempts))
	}

	// 发送失败 -> failed，周期继续
	store2 := newFakeStore()
	n2 := &fakeNotifier{outcome: notifier.OutcomeFailed, err: errors.New("errcode 310000")}
	p2 := newPipeline([]collector.Fetcher{&fakeFetcher{name: "热源", records: records}}, store2, n2)
	stats2, err := p2.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if stats2.NotifyFailed != 1 || store2.notifyState["HOT"] != storage.NotifyStateFailed {
		t.Fatalf("stats=%+v state=%q", stats2, store2.notifyState["HOT"])
	}

	// 低于门槛 -> suppressed，状态保持 not_sent（未写入）
	store3 := newFakeStore()
	n3 := &fakeNotifier{outcome: notifier.OutcomeSuppressed}
	p3 := newPipeline([]collector.Fetcher{&fakeFetcher{name: "热源", records: records}}, store3, n3)
	stats3, err := p3.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if stats3.Suppressed != 1 {
		t.Fatalf("suppressed = %d, want 1", stats3.Suppressed)
	}
	if _, ok := store3.notifyState["HOT"]; ok {
		t.Fatalf("suppressed item must keep not_sent state")
	}
}

func TestRunCycleSkipsWhenPreviousRunning(t *testing.T) {
	block := make(chan struct{})
	fetchers := []collector.Fetcher{&fakeFetcher{name: "slow", block: block}}
	store := newFakeStore()
	p := newPipeline(fetchers, store, &fakeNotifier{outcome: notifier.OutcomeSuppressed})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.RunCycle(context.Background())
	}()

	// 等第一轮进入抓取阻塞
	time.Sleep(50 * time.Millisecond)
	if _, err := p.RunCycle(context.Background()); !errors.Is(err, ErrCycleSkipped) {
		t.Fatalf("expected ErrCycleSkipped, got %v", err)
	}

	close(block)
	<-done

	// 第一轮结束后可以再跑
	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle after completion should run: %v", err)
	}
}

func TestRunCycleStoreConnectionLossIsFatal(t *testing.T) {
	fetchers := []collector.Fetcher{
		&fakeFetcher{name: "a", records: []collector.RawRecord{{"code": "K9", "title": "新闻"}}},
	}
	store := newFakeStore()
	store.existErr = errors.New("connection refused")

	_, err := newPipeline(fetchers, store, &fakeNotifier{outcome: notifier.OutcomeSuppressed}).RunCycle(context.Background())
	if err == nil {
		t.Fatalf("expected fatal error on store connection loss")
	}
}
