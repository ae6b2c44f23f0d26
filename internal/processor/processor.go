package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/LJTian/FinNewsRadar/internal/collector"
)

// NewsItem 是归一化后的统一新闻结构，Code 即去重标识：
// 数据源自带编号时直接使用，否则由 标题+来源+发布分钟 哈希得出。
type NewsItem struct {
	Code          string
	Title         string
	Content       string
	Source        string
	URL           string
	PublishedAt   time.Time
	CollectedAt   time.Time
	RelatedStocks []string
	RawData       map[string]any
}

// ParseError 表示单条原始记录无法归一化；该条丢弃，同批其余条目继续
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return "parse record from " + e.Source + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errEmptyRecord = errors.New("record has neither title nor content")

// 标题缺失时从正文截取的最大长度（rune 数）
const titleFromContentLimit = 200

// Processor 做归一化与本轮内去重。
// seen 集合横跨本轮所有数据源：两个源报同一条新闻时先到者胜出，
// 后到者只计数不入库。一个 Processor 只服务一个采集周期。
type Processor struct {
	now  time.Time
	seen map[string]struct{}
}

// BatchStats 单个数据源一批记录的归一化统计
type BatchStats struct {
	Parsed     int
	Malformed  int
	Duplicates int
}

func New(now time.Time) *Processor {
	return &Processor{
		now:  now,
		seen: make(map[string]struct{}),
	}
}

// Process 归一化一批原始记录并做本轮内去重
func (p *Processor) Process(source string, records []collector.RawRecord) ([]NewsItem, BatchStats) {
	items := make([]NewsItem, 0, len(records))
	var stats BatchStats

	for _, rec := range records {
		item, err := p.Normalize(rec, source)
		if err != nil {
			stats.Malformed++
			continue
		}
		if _, ok := p.seen[item.Code]; ok {
			stats.Duplicates++
			continue
		}
		p.seen[item.Code] = struct{}{}
		stats.Parsed++
		items = append(items, item)
	}

	return items, stats
}

// Normalize 将一条原始记录转成统一结构。
// 字段兜底规则：缺标题用正文前 200 字，缺正文用标题，
// 发布时间解析失败用采集时间。
func (p *Processor) Normalize(rec collector.RawRecord, source string) (NewsItem, error) {
	title := strings.TrimSpace(rec.String("title"))
	content := strings.TrimSpace(rec.String("content"))

	if title == "" && content == "" {
		return NewsItem{}, &ParseError{Source: source, Err: errEmptyRecord}
	}
	if title == "" {
		title = truncateRunes(content, titleFromContentLimit)
	}
	if content == "" {
		content = title
	}

	publishedAt := parsePublishTime(rec.String("time"), p.now)

	code := strings.TrimSpace(rec.String("code"))
	if code == "" {
		code = hashIdentity(title, source, publishedAt)
	}

	return NewsItem{
		Code:          code,
		Title:         title,
		Content:       content,
		Source:        source,
		URL:           strings.TrimSpace(rec.String("url")),
		PublishedAt:   publishedAt,
		CollectedAt:   p.now,
		RelatedStocks: rec.Strings("stocks"),
		RawData:       rec,
	}, nil
}

// hashIdentity 生成无编号新闻的去重标识：对 标题|来源|发布分钟 做
// SHA-256 并截取前 16 个 hex 字符。发布时间截断到分钟，
// 使同一条新闻在秒级抖动下仍得到相同标识。
func hashIdentity(title, source string, publishedAt time.Time) string {
	minute := publishedAt.UTC().Truncate(time.Minute).Format("2006-01-02 15:04")
	h := sha256.Sum256([]byte(strings.TrimSpace(title) + "|" + source + "|" + minute))
	return hex.EncodeToString(h[:])[:16]
}

// 常见的发布时间格式，按出现频率排列
var publishTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"01-02 15:04",
	time.RFC3339,
}

// parsePublishTime 尽力解析发布时间；只有时分（秒）的快讯时间
// 补上当天日期；全部失败时退回采集时间
func parsePublishTime(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}

	for _, layout := range publishTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, fallback.Location()); err == nil {
			// 无年份的格式解析出年份 0，补当前年份
			if t.Year() == 0 {
				t = t.AddDate(fallback.Year(), 0, 0)
			}
			return t
		}
	}

	// 快讯常见的 "15:04:05" / "15:04"：补当天日期
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.ParseInLocation(layout, s, fallback.Location()); err == nil {
			return time.Date(fallback.Year(), fallback.Month(), fallback.Day(),
				t.Hour(), t.Minute(), t.Second(), 0, fallback.Location())
		}
	}

	return fallback
}

// truncateRunes 按 rune 数截断，避免把多字节汉字截成乱码
func truncateRunes(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}
