package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	eastmoneyListURL       = "https://newsapi.eastmoney.com/kuaixun/v1/getlist?size=50"
	eastmoneyMaxItems      = 50
	eastmoneyMaxRespBytes  = 1 << 20 // 1MB
	eastmoneyClientTimeout = 30 * time.Second
)

// EastmoneyFetcher 通过快讯列表接口抓取东方财富 7x24 快讯。
// 接口返回 JSON，每条自带唯一 news code，可直接作为去重标识。
type EastmoneyFetcher struct {
	// BaseURL 可覆盖默认接口地址，便于测试
	BaseURL string
	Client  *http.Client
}

func (f *EastmoneyFetcher) Name() string {
	return "eastmoney"
}

type eastmoneyResp struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		List []eastmoneyItem `json:"list"`
	} `json:"data"`
}

type eastmoneyItem struct {
	Code     string `json:"code"`
	Title    string `json:"title"`
	Digest   string `json:"digest"`
	ShowTime string `json:"showTime"` // 例如 2025-02-06 15:30:00
	URL      string `json:"url"`
	Stocks   []struct {
		Name string `json:"name"`
		Code string `json:"code"`
	} `json:"stockList"`
}

func (f *EastmoneyFetcher) Fetch(ctx context.Context) ([]RawRecord, error) {
	log.Println("fetch eastmoney kuaixun...")

	url := f.BaseURL
	if url == "" {
		url = eastmoneyListURL
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: eastmoneyClientTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Source: f.Name(), Err: err}
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Referer", "https://kuaixun.eastmoney.com/")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: f.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: f.Name(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, eastmoneyMaxRespBytes))
	if err != nil {
		return nil, &FetchError{Source: f.Name(), Err: fmt.Errorf("read body: %w", err)}
	}

	var payload eastmoneyResp
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &FetchError{Source: f.Name(), Err: fmt.Errorf("unmarshal list: %w", err)}
	}
	if payload.Code != 0 {
		return nil, &FetchError{Source: f.Name(), Err: fmt.Errorf("api code %d: %s", payload.Code, payload.Msg)}
	}

	list := payload.Data.List
	if len(list) > eastmoneyMaxItems {
		list = list[:eastmoneyMaxItems]
	}

	records := make([]RawRecord, 0, len(list))
	for _, it := range list {
		title := strings.TrimSpace(it.Title)
		digest := strings.TrimSpace(it.Digest)
		if title == "" && digest == "" {
			continue
		}

		stocks := make([]string, 0, len(it.Stocks))
		for _, s := range it.Stocks {
			if name := strings.TrimSpace(s.Name); name != "" {
				stocks = append(stocks, name)
			}
		}

		records = append(records, RawRecord{
			"code":    strings.TrimSpace(it.Code),
			"title":   title,
			"content": digest,
			"time":    strings.TrimSpace(it.ShowTime),
			"url":     fixEastmoneyURL(it.URL),
			"stocks":  stocks,
		})
	}

	if len(records) == 0 {
		log.Println("eastmoney: no items fetched")
	}
	return records, nil
}

// fixEastmoneyURL 补全协议相对/站内相对链接
func fixEastmoneyURL(u string) string {
	u = strings.TrimSpace(u)
	switch {
	case u == "":
		return ""
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	case strings.HasPrefix(u, "/"):
		return "https://finance.eastmoney.com" + u
	default:
		return u
	}
}
