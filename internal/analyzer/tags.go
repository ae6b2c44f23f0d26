package analyzer

import (
	"sort"
	"strings"
)

// Tag 一次标签命中（行业叶子或概念）
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// tagIndex 把层级标签库展开成 关键词 -> 节点 的平铺索引，
// 匹配时只需一次遍历
type tagIndex struct {
	industryKeywords map[string]Tag
	conceptKeywords  map[string]Tag
}

func buildTagIndex(tax *TagTaxonomy) *tagIndex {
	idx := &tagIndex{
		industryKeywords: make(map[string]Tag),
		conceptKeywords:  make(map[string]Tag),
	}
	if tax == nil {
		return idx
	}

	for _, l1 := range tax.Industries.Level1 {
		for _, l2 := range l1.Level2 {
			for _, leaf := range l2.Level3 {
				for _, kw := range leaf.Keywords {
					if kw == "" {
						continue
					}
					idx.industryKeywords[kw] = Tag{ID: leaf.ID, Name: leaf.Name}
				}
			}
		}
	}
	for _, concept := range tax.Concepts {
		for _, kw := range concept.Keywords {
			if kw == "" {
				continue
			}
			idx.conceptKeywords[kw] = Tag{ID: concept.ID, Name: concept.Name}
		}
	}
	return idx
}

// match 对 标题+" "+正文 做子串匹配，按节点 id 去重。
// 只判断有无，不做打分。
func (idx *tagIndex) match(title, content string) (industries, concepts []Tag) {
	text := title + " " + content

	seenInd := make(map[string]struct{})
	for kw, tag := range idx.industryKeywords {
		if !strings.Contains(text, kw) {
			continue
		}
		if _, ok := seenInd[tag.ID]; ok {
			continue
		}
		seenInd[tag.ID] = struct{}{}
		industries = append(industries, tag)
	}

	seenCon := make(map[string]struct{})
	for kw, tag := range idx.conceptKeywords {
		if !strings.Contains(text, kw) {
			continue
		}
		if _, ok := seenCon[tag.ID]; ok {
			continue
		}
		seenCon[tag.ID] = struct{}{}
		concepts = append(concepts, tag)
	}

	// map 遍历无序，按 id 排序保证重复调用结果一致
	sort.Slice(industries, func(i, j int) bool { return industries[i].ID < industries[j].ID })
	sort.Slice(concepts, func(i, j int) bool { return concepts[i].ID < concepts[j].ID })

	return industries, concepts
}
