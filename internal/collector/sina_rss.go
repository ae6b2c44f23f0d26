package collector

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	sinaFeedURL      = "https://finance.sina.com.cn/7x24/rssdomestic.xml"
	sinaFetchTimeout = 30 * time.Second
	sinaMaxItems     = 50
)

// SinaRSSFetcher 通过新浪财经 7x24 的 RSS 输出抓取快讯。
// RSS 自带 GUID，可作为去重标识；GUID 缺失时退化为链接。
type SinaRSSFetcher struct {
	// FeedURL 可覆盖默认地址，便于测试
	FeedURL string
}

func (s *SinaRSSFetcher) Name() string {
	return "sina"
}

func (s *SinaRSSFetcher) Fetch(ctx context.Context) ([]RawRecord, error) {
	log.Println("fetch Sina finance RSS...")

	url := s.FeedURL
	if url == "" {
		url = sinaFeedURL
	}

	ctx, cancel := context.WithTimeout(ctx, sinaFetchTimeout)
	defer cancel()

	parser := gofeed.NewParser()
	parser.UserAgent = defaultUserAgent

	feed, err := parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, &FetchError{Source: s.Name(), Err: err}
	}

	items := feed.Items
	if len(items) > sinaMaxItems {
		items = items[:sinaMaxItems]
	}

	records := make([]RawRecord, 0, len(items))
	for _, it := range items {
		title := strings.TrimSpace(it.Title)
		if title == "" {
			continue
		}

		guid := strings.TrimSpace(it.GUID)
		if guid == "" {
			guid = strings.TrimSpace(it.Link)
		}

		rec := RawRecord{
			"code":    guid,
			"title":   title,
			"content": strings.TrimSpace(it.Description),
			"url":     strings.TrimSpace(it.Link),
		}
		if it.PublishedParsed != nil {
			rec["time"] = it.PublishedParsed.Format("2006-01-02 15:04:05")
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		log.Println("sina: no items fetched")
	}
	return records, nil
}
