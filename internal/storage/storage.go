package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/LJTian/FinNewsRadar/internal/analyzer"
	"github.com/LJTian/FinNewsRadar/internal/processor"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 推送状态：一经置为 sent/failed 不再变更（至多一次投递）
const (
	NotifyStateNotSent = "not_sent"
	NotifyStateSent    = "sent"
	NotifyStateFailed  = "failed"
)

// News 新闻主表。Code 上有唯一索引，是跨周期去重的依据。
type News struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Code    string `gorm:"size:64;uniqueIndex" json:"code"`
	Title   string `gorm:"size:512" json:"title"`
	Content string `gorm:"type:text" json:"content"`
	Source  string `gorm:"size:64;index" json:"source"`
	URL     string `gorm:"size:1024" json:"url"`

	PublishedAt time.Time `gorm:"index" json:"publishedAt"`
	CollectedAt time.Time `gorm:"index" json:"collectedAt"`

	RelatedStocks   datatypes.JSON `gorm:"type:jsonb" json:"relatedStocks"`
	HasStockMention bool           `json:"hasStockMention"`

	Importance   int            `gorm:"index" json:"importance"`
	Sentiment    string         `gorm:"size:16" json:"sentiment"`
	IndustryTags datatypes.JSON `gorm:"type:jsonb" json:"industryTags"`
	ConceptTags  datatypes.JSON `gorm:"type:jsonb" json:"conceptTags"`

	NotifyState string     `gorm:"size:16;index;default:not_sent" json:"notifyState"`
	NotifiedAt  *time.Time `json:"notifiedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InsertOutcome 单条插入结果
type InsertOutcome string

const (
	OutcomeInserted  InsertOutcome = "inserted"
	OutcomeDuplicate InsertOutcome = "duplicate"
	OutcomeRejected  InsertOutcome = "rejected"
)

// BatchResult 批量保存的逐条与汇总结果。
// 某一条畸形或失败不影响同批其余条目。
type BatchResult struct {
	Outcomes   map[string]InsertOutcome
	Inserted   int
	Duplicates int
	Rejected   int
	Failed     int
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
}

func NewStore(dsn, redisAddr string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&News{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("warn: redis ping failed: %v", err)
	}

	return &Store{DB: db, Redis: rdb}, nil
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// truncateRunesDB 按 rune 数截断，确保不超过数据库字段长度
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

// newsFromItem 把归一化条目转成数据库行；返回 false 表示条目畸形
func newsFromItem(it processor.NewsItem) (*News, bool) {
	code := strings.TrimSpace(it.Code)
	title := truncateRunesDB(toValidUTF8(it.Title), 500)
	if code == "" || title == "" {
		return nil, false
	}

	stocks, err := json.Marshal(it.RelatedStocks)
	if err != nil {
		stocks = []byte("[]")
	}

	return &News{
		Code:            code,
		Title:           title,
		Content:         toValidUTF8(it.Content),
		Source:          it.Source,
		URL:             truncateRunesDB(it.URL, 1000),
		PublishedAt:     it.PublishedAt,
		CollectedAt:     it.CollectedAt,
		RelatedStocks:   datatypes.JSON(stocks),
		HasStockMention: len(it.RelatedStocks) > 0,
		NotifyState:     NotifyStateNotSent,
	}, true
}

// InsertIfAbsent 幂等插入：Code 冲突时不覆盖已有行，返回 duplicate。
// 借助 ON CONFLICT DO NOTHING，冲突检测与插入在同一条语句内完成。
func (s *Store) InsertIfAbsent(it processor.NewsItem) (InsertOutcome, error) {
	row, ok := newsFromItem(it)
	if !ok {
		return OutcomeRejected, nil
	}

	res := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		return "", fmt.Errorf("insert news %s: %w", row.Code, res.Error)
	}
	if res.RowsAffected == 0 {
		return OutcomeDuplicate, nil
	}
	return OutcomeInserted, nil
}

// SaveBatch 批量保存，逐条独立：inserted / duplicate / rejected，
// 单条写库失败计入 Failed，不中断整批
func (s *Store) SaveBatch(items []processor.NewsItem) BatchResult {
	result := BatchResult{Outcomes: make(map[string]InsertOutcome, len(items))}

	for _, it := range items {
		outcome, err := s.InsertIfAbsent(it)
		if err != nil {
			log.Printf("storage: save %s failed: %v", it.Code, err)
			result.Failed++
			continue
		}
		result.Outcomes[it.Code] = outcome
		switch outcome {
		case OutcomeInserted:
			result.Inserted++
		case OutcomeDuplicate:
			result.Duplicates++
		case OutcomeRejected:
			result.Rejected++
		}
	}

	return result
}

// ExistingCodes 批量查询已入库的去重标识，N 条只需一次往返
func (s *Store) ExistingCodes(codes []string) (map[string]bool, error) {
	result := make(map[string]bool, len(codes))
	if len(codes) == 0 {
		return result, nil
	}

	var found []string
	if err := s.DB.Model(&News{}).Where("code IN ?", codes).Pluck("code", &found).Error; err != nil {
		return nil, fmt.Errorf("query existing codes: %w", err)
	}
	for _, c := range found {
		result[c] = true
	}
	return result, nil
}

// UpdateEnrichment 回写富化结果（重要性/情感/标签）
func (s *Store) UpdateEnrichment(code string, e analyzer.Enrichment) error {
	industries, err := json.Marshal(e.Industries)
	if err != nil {
		industries = []byte("[]")
	}
	concepts, err := json.Marshal(e.Concepts)
	if err != nil {
		concepts = []byte("[]")
	}

	res := s.DB.Model(&News{}).Where("code = ?", code).Updates(map[string]any{
		"importance":    e.Importance,
		"sentiment":     e.Sentiment,
		"industry_tags": datatypes.JSON(industries),
		"concept_tags":  datatypes.JSON(concepts),
	})
	if res.Error != nil {
		return fmt.Errorf("update enrichment %s: %w", code, res.Error)
	}
	return nil
}

// MarkNotifyState 记录推送结果；只允许从 not_sent 迁出，
// 已是 sent/failed 的行保持原状（至多一次投递的持久化保证）
func (s *Store) MarkNotifyState(code, state string, at time.Time) error {
	res := s.DB.Model(&News{}).
		Where("code = ? AND notify_state = ?", code, NotifyStateNotSent).
		Updates(map[string]any{
			"notify_state": state,
			"notified_at":  at,
		})
	if res.Error != nil {
		return fmt.Errorf("mark notify state %s: %w", code, res.Error)
	}
	return nil
}

// Recent 按发布时间倒序返回最近新闻，Redis 做短 TTL 缓存
func (s *Store) Recent(limit int) ([]News, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}

	ctx := context.Background()
	cacheKey := fmt.Sprintf("news:recent:%d", limit)

	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []News
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var list []News
	err := s.DB.Model(&News{}).
		Order("published_at DESC").
		Order("collected_at DESC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}

	// 短 TTL 回写缓存，靠自然过期失效
	const recentCacheTTL = time.Minute
	if s.Redis != nil && len(list) > 0 {
		if bs, err := json.Marshal(list); err == nil {
			_ = s.Redis.Set(ctx, cacheKey, bs, recentCacheTTL).Err()
		}
	}

	return list, nil
}

// Count 新闻总数
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.DB.Model(&News{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
