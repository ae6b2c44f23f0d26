package analyzer

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// 情感倾向取值
const (
	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"
)

// Enrichment 富化结果：重要性、情感、行业/概念标签
type Enrichment struct {
	Importance int
	Sentiment  string
	Industries []Tag
	Concepts   []Tag
}

// Analyzer 基于词表对新闻做规则富化。词表可热更新，
// 读写用 RWMutex 隔离；富化本身对同一份词表是纯函数。
type Analyzer struct {
	keywordPath string
	tagPath     string

	mu      sync.RWMutex
	lexicon *KeywordLexicon
	tags    *tagIndex
}

// New 加载两份词表文件构建 Analyzer。任何一份加载失败只记日志、
// 用空词表兜底：富化缺词表时给默认分/中性/无标签，绝不让管线失败。
func New(keywordPath, tagPath string) *Analyzer {
	a := &Analyzer{
		keywordPath: keywordPath,
		tagPath:     tagPath,
		lexicon:     &KeywordLexicon{DefaultSourceWeight: 5, ScoreDivisor: 3},
		tags:        buildTagIndex(nil),
	}
	a.Reload()
	return a
}

// NewFromLexicons 直接用内存词表构建，供测试与嵌入使用
func NewFromLexicons(lex *KeywordLexicon, tax *TagTaxonomy) *Analyzer {
	if lex == nil {
		lex = &KeywordLexicon{DefaultSourceWeight: 5, ScoreDivisor: 3}
	}
	return &Analyzer{
		lexicon: lex,
		tags:    buildTagIndex(tax),
	}
}

// Reload 重新加载词表文件；失败保留旧词表
func (a *Analyzer) Reload() {
	if a.keywordPath != "" {
		if lex, err := LoadKeywordLexicon(a.keywordPath); err != nil {
			log.Printf("analyzer: load keyword lexicon: %v", err)
		} else {
			a.mu.Lock()
			a.lexicon = lex
			a.mu.Unlock()
			log.Printf("analyzer: keyword lexicon loaded (%d keywords, %d sources)",
				len(lex.ImportanceKeywords), len(lex.SourceWeights))
		}
	}
	if a.tagPath != "" {
		if tax, err := LoadTagTaxonomy(a.tagPath); err != nil {
			log.Printf("analyzer: load tag taxonomy: %v", err)
		} else {
			idx := buildTagIndex(tax)
			a.mu.Lock()
			a.tags = idx
			a.mu.Unlock()
			log.Printf("analyzer: tag taxonomy loaded (%d industry keywords, %d concept keywords)",
				len(idx.industryKeywords), len(idx.conceptKeywords))
		}
	}
}

// Watch 监听词表文件变更并热更新，阻塞直到 ctx 结束。
// 编辑器常用 重命名/覆盖 方式写文件，所以监听所在目录而非文件本身。
func (a *Analyzer) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dirs := make(map[string]struct{})
	for _, p := range []string{a.keywordPath, a.tagPath} {
		if p == "" {
			continue
		}
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	watched := map[string]struct{}{}
	for _, p := range []string{a.keywordPath, a.tagPath} {
		if p != "" {
			watched[filepath.Clean(p)] = struct{}{}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, hit := watched[filepath.Clean(ev.Name)]; !hit {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				log.Printf("analyzer: lexicon file changed: %s", ev.Name)
				a.Reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("analyzer: watcher error: %v", err)
		}
	}
}

// Enrich 计算一条新闻的富化属性。任何词表缺失都只会得到
// 保守结果（默认分、中性、无标签），不返回错误。
func (a *Analyzer) Enrich(title, content, source string) Enrichment {
	a.mu.RLock()
	lex := a.lexicon
	tags := a.tags
	a.mu.RUnlock()

	industries, concepts := tags.match(title, content)

	return Enrichment{
		Importance: calcImportance(lex, title, source),
		Sentiment:  judgeSentiment(lex, title),
		Industries: industries,
		Concepts:   concepts,
	}
}

// calcImportance 重要性 = 来源权重 + 命中关键词权重之和 + 紧急加分，
// 再经 raw/divisor 的整数除法压缩并夹到 0-10
func calcImportance(lex *KeywordLexicon, title, source string) int {
	score := lex.sourceWeight(source)

	for keyword, weight := range lex.ImportanceKeywords {
		if keyword != "" && strings.Contains(title, keyword) {
			score += weight
		}
	}

	for _, marker := range lex.UrgencyMarkers {
		if marker != "" && strings.Contains(title, marker) {
			score += lex.UrgencyBonus
			break
		}
	}

	score /= lex.divisor()
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// judgeSentiment 数标题里多空关键词的命中个数，多者胜，平局中性
func judgeSentiment(lex *KeywordLexicon, title string) string {
	bullish := countHits(title, lex.BullishKeywords)
	bearish := countHits(title, lex.BearishKeywords)

	switch {
	case bullish > bearish:
		return SentimentBullish
	case bearish > bullish:
		return SentimentBearish
	default:
		return SentimentNeutral
	}
}

func countHits(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			n++
		}
	}
	return n
}
