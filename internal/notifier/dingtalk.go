package notifier

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LJTian/FinNewsRadar/internal/analyzer"
	"github.com/LJTian/FinNewsRadar/internal/processor"
)

// Outcome 单条新闻的推送结局
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeFailed     Outcome = "failed"
)

const dingtalkClientTimeout = 10 * time.Second

// 重要性星级最多显示 5 颗
const maxStars = 5

var sentimentEmoji = map[string]string{
	analyzer.SentimentBullish: "📈",
	analyzer.SentimentBearish: "📉",
	analyzer.SentimentNeutral: "📊",
}

// DingTalkNotifier 钉钉群机器人推送器。
// 门槛规则：importance >= Threshold 才推送；每条新闻至多尝试一次，
// 非零 errcode 记为 failed，不重试。
type DingTalkNotifier struct {
	WebhookURL string
	// Secret 加签密钥，为空则不签名
	Secret    string
	Threshold int
	// Keywords 机器人安全设置要求消息包含的关键词，缺失时自动补第一个
	Keywords []string

	Client *http.Client
	// now 可注入，便于测试签名
	now func() time.Time
}

func New(webhookURL, secret string, threshold int, keywords []string) *DingTalkNotifier {
	if len(keywords) == 0 {
		keywords = []string{"财经快讯"}
	}
	return &DingTalkNotifier{
		WebhookURL: webhookURL,
		Secret:     secret,
		Threshold:  threshold,
		Keywords:   keywords,
		Client:     &http.Client{Timeout: dingtalkClientTimeout},
		now:        time.Now,
	}
}

type dingtalkMessage struct {
	MsgType  string `json:"msgtype"`
	Markdown struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"markdown"`
}

type dingtalkResp struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// MaybeNotify 按门槛决定是否推送一条新闻。
// 低于门槛返回 suppressed；发送失败（网络错误或非零 errcode）
// 返回 failed 与错误详情，调用方只记账不重试。
func (n *DingTalkNotifier) MaybeNotify(item processor.NewsItem, e analyzer.Enrichment) (Outcome, error) {
	if e.Importance < n.Threshold {
		return OutcomeSuppressed, nil
	}
	if n.WebhookURL == "" {
		return OutcomeFailed, fmt.Errorf("webhook url not configured")
	}

	text := n.renderMarkdown(item, e)
	title := alertTitle(item.Title)

	if err := n.send(title, text); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeSent, nil
}

// renderMarkdown 生成钉钉 markdown 卡片正文
func (n *DingTalkNotifier) renderMarkdown(item processor.NewsItem, e analyzer.Enrichment) string {
	emoji, ok := sentimentEmoji[e.Sentiment]
	if !ok {
		emoji = "📰"
	}

	stars := e.Importance
	if stars > maxStars {
		stars = maxStars
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### %s 财经快讯 %s\n\n", emoji, emoji)
	fmt.Fprintf(&b, "**%s**\n\n---\n\n", item.Title)
	fmt.Fprintf(&b, "> **来源**：%s  \n", item.Source)
	fmt.Fprintf(&b, "> **时间**：%s  \n", item.PublishedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "> **重要性**：%d/10 %s  \n", e.Importance, strings.Repeat("⭐", stars))
	fmt.Fprintf(&b, "> **情感倾向**：%s %s\n", e.Sentiment, emoji)
	if len(item.RelatedStocks) > 0 {
		fmt.Fprintf(&b, "\n📌 相关股票：%s\n", strings.Join(item.RelatedStocks, "、"))
	}
	if item.URL != "" {
		fmt.Fprintf(&b, "\n[查看详情](%s)", item.URL)
	}

	text := b.String()
	return n.ensureKeyword(text)
}

// ensureKeyword 钉钉机器人要求消息包含配置的关键词，缺失则前置补上
func (n *DingTalkNotifier) ensureKeyword(text string) string {
	for _, kw := range n.Keywords {
		if kw != "" && strings.Contains(text, kw) {
			return text
		}
	}
	return n.Keywords[0] + "\n\n" + text
}

// alertTitle 消息标题：过长截断加省略号
func alertTitle(title string) string {
	rs := []rune(title)
	if len(rs) <= 30 {
		return title
	}
	return string(rs[:30]) + "..."
}

func (n *DingTalkNotifier) send(title, text string) error {
	msg := dingtalkMessage{MsgType: "markdown"}
	msg.Markdown.Title = title
	msg.Markdown.Text = text

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	target := n.WebhookURL
	if n.Secret != "" {
		ts := n.now().UnixMilli()
		target = fmt.Sprintf("%s&timestamp=%d&sign=%s", target, ts, sign(ts, n.Secret))
	}

	resp, err := n.Client.Post(target, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	var result dingtalkResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode webhook response: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("webhook errcode %d: %s", result.ErrCode, result.ErrMsg)
	}

	log.Printf("notifier: dingtalk message sent: %s", title)
	return nil
}

// sign 钉钉加签：HMAC-SHA256(秘钥, 毫秒时间戳 + "\n" + 秘钥)，
// Base64 后再做 URL 编码
func sign(timestampMillis int64, secret string) string {
	stringToSign := strconv.FormatInt(timestampMillis, 10) + "\n" + secret
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stringToSign))
	return url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}
