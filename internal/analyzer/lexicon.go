package analyzer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// KeywordLexicon 是重要性/情感词表：外部 YAML 文件，热更新。
// 权重、紧急加分、压缩除数都是调参数据而非代码常量。
type KeywordLexicon struct {
	// DefaultSourceWeight 未收录来源的兜底权重
	DefaultSourceWeight int            `yaml:"default_source_weight"`
	SourceWeights       map[string]int `yaml:"source_weights"`
	// ImportanceKeywords 关键词 -> 权重，命中即加分，同一关键词只计一次
	ImportanceKeywords map[string]int `yaml:"importance_keywords"`
	// UrgencyMarkers 标题中出现任意一个则加 UrgencyBonus
	UrgencyMarkers []string `yaml:"urgency_markers"`
	UrgencyBonus   int      `yaml:"urgency_bonus"`
	// ScoreDivisor 原始加权和除以该值后再夹到 0-10；
	// 整数除法的压缩让得分不随关键词数量线性膨胀
	ScoreDivisor int `yaml:"score_divisor"`

	BullishKeywords []string `yaml:"bullish_keywords"`
	BearishKeywords []string `yaml:"bearish_keywords"`
}

// TagTaxonomy 是行业+概念标签库：行业三级（板块->细分->叶子），
// 概念为平铺列表，叶子和概念各带关键词
type TagTaxonomy struct {
	Version    string `yaml:"version"`
	Industries struct {
		Level1 []IndustrySector `yaml:"level1"`
	} `yaml:"industries"`
	Concepts []TagNode `yaml:"concepts"`
}

// IndustrySector 行业一级（板块）
type IndustrySector struct {
	Name   string              `yaml:"name"`
	Level2 []IndustrySubsector `yaml:"level2"`
}

// IndustrySubsector 行业二级（细分）
type IndustrySubsector struct {
	Name   string    `yaml:"name"`
	Level3 []TagNode `yaml:"level3"`
}

// TagNode 行业叶子或概念节点
type TagNode struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

func (l *KeywordLexicon) sourceWeight(source string) int {
	if w, ok := l.SourceWeights[source]; ok {
		return w
	}
	return l.DefaultSourceWeight
}

func (l *KeywordLexicon) divisor() int {
	if l.ScoreDivisor <= 0 {
		return 1
	}
	return l.ScoreDivisor
}

// LoadKeywordLexicon 从 YAML 文件读取词表
func LoadKeywordLexicon(path string) (*KeywordLexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword lexicon: %w", err)
	}
	var lex KeywordLexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parse keyword lexicon: %w", err)
	}
	return &lex, nil
}

// LoadTagTaxonomy 从 YAML 文件读取标签库
func LoadTagTaxonomy(path string) (*TagTaxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tag taxonomy: %w", err)
	}
	var tax TagTaxonomy
	if err := yaml.Unmarshal(data, &tax); err != nil {
		return nil, fmt.Errorf("parse tag taxonomy: %w", err)
	}
	return &tax, nil
}
