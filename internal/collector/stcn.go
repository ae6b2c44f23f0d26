package collector

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

const (
	stcnListURL        = "https://www.stcn.com/article/list/kx.html"
	stcnRequestTimeout = 30 * time.Second
	stcnMaxItems       = 30
)

var stcnTimeRe = regexp.MustCompile(`\d{2}:\d{2}(:\d{2})?`)

// StcnFetcher 抓取证券时报快讯列表页。
// 页面结构可能调整，此处基于当前 DOM 做“尽力而为”的解析，
// 主选择器落空时退化为按链接文本启发式提取。
type StcnFetcher struct{}

func (s *StcnFetcher) Name() string {
	return "stcn"
}

func (s *StcnFetcher) Fetch(ctx context.Context) ([]RawRecord, error) {
	log.Println("fetch STCN kuaixun...")

	c := colly.NewCollector(
		colly.AllowedDomains("www.stcn.com", "stcn.com"),
		colly.UserAgent(defaultUserAgent),
	)
	c.SetRequestTimeout(stcnRequestTimeout)

	records := make([]RawRecord, 0, stcnMaxItems)

	c.OnHTML("div.list-con li, ul.news-list li", func(e *colly.HTMLElement) {
		if len(records) >= stcnMaxItems {
			return
		}
		title := strings.TrimSpace(e.ChildText("a"))
		if title == "" {
			return
		}
		href := fixStcnURL(e.ChildAttr("a", "href"))
		timeText := strings.TrimSpace(e.ChildText("span.time"))
		if timeText == "" {
			timeText = stcnTimeRe.FindString(e.Text)
		}

		records = append(records, RawRecord{
			"title": title,
			"url":   href,
			"time":  timeText,
		})
	})

	// 兜底：主选择器一个都没命中时，从整页链接里按文本特征提取
	c.OnScraped(func(r *colly.Response) {
		if len(records) > 0 {
			return
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(r.Body)))
		if err != nil {
			return
		}
		doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := strings.TrimSpace(sel.Text())
			if !looksLikeHeadline(text) {
				return true
			}
			href, _ := sel.Attr("href")
			records = append(records, RawRecord{
				"title": text,
				"url":   fixStcnURL(href),
			})
			return len(records) < stcnMaxItems
		})
	})

	if err := c.Visit(stcnListURL); err != nil {
		return nil, &FetchError{Source: s.Name(), Err: err}
	}
	c.Wait()

	if len(records) == 0 {
		log.Println("stcn: no items fetched")
	}
	return records, nil
}

// looksLikeHeadline 判断链接文本是否像一条快讯标题：
// 长度适中，且不是“更多”“首页”之类的导航词
func looksLikeHeadline(text string) bool {
	n := len([]rune(text))
	if n < 10 || n > 100 {
		return false
	}
	for _, nav := range []string{"更多", "首页", "下一页", "上一页", "登录", "注册"} {
		if text == nav {
			return false
		}
	}
	return true
}

func fixStcnURL(u string) string {
	u = strings.TrimSpace(u)
	switch {
	case u == "":
		return ""
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	case strings.HasPrefix(u, "/"):
		return "https://www.stcn.com" + u
	default:
		return u
	}
}
