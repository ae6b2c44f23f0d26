package notifier

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LJTian/FinNewsRadar/internal/analyzer"
	"github.com/LJTian/FinNewsRadar/internal/processor"
)

func testItem() processor.NewsItem {
	return processor.NewsItem{
		Code:          "abc123",
		Title:         "央行宣布降准0.5个百分点",
		Content:       "释放长期资金约1万亿元",
		Source:        "东方财富",
		URL:           "https://kuaixun.eastmoney.com/a/1.html",
		PublishedAt:   time.Date(2025, 2, 6, 15, 30, 0, 0, time.UTC),
		RelatedStocks: []string{"贵州茅台"},
	}
}

func TestMaybeNotifySuppressedBelowThreshold(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := New(srv.URL+"?access_token=x", "", 7, nil)
	outcome, err := n.MaybeNotify(testItem(), analyzer.Enrichment{Importance: 6, Sentiment: analyzer.SentimentNeutral})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSuppressed {
		t.Fatalf("outcome = %q, want suppressed", outcome)
	}
	if called {
		t.Fatalf("webhook must not be called below threshold")
	}
}

func TestMaybeNotifySendsAtThreshold(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	n := New(srv.URL+"?access_token=x", "", 7, []string{"财经快讯"})
	outcome, err := n.MaybeNotify(testItem(), analyzer.Enrichment{Importance: 7, Sentiment: analyzer.SentimentBullish})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSent {
		t.Fatalf("outcome = %q, want sent", outcome)
	}

	var msg dingtalkMessage
	if err := json.Unmarshal(gotBody, &msg); err != nil {
		t.Fatalf("unmarshal sent body: %v", err)
	}
	if msg.MsgType != "markdown" {
		t.Fatalf("msgtype = %q", msg.MsgType)
	}
	for _, want := range []string{"央行宣布降准", "东方财富", "7/10", "📈", "贵州茅台", "财经快讯"} {
		if !strings.Contains(msg.Markdown.Text, want) {
			t.Fatalf("markdown text missing %q:\n%s", want, msg.Markdown.Text)
		}
	}
}

func TestMaybeNotifyFailedOnErrcode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errcode":310000,"errmsg":"keywords not in content"}`))
	}))
	defer srv.Close()

	n := New(srv.URL+"?access_token=x", "", 7, nil)
	outcome, err := n.MaybeNotify(testItem(), analyzer.Enrichment{Importance: 9})
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", outcome)
	}
	if err == nil || !strings.Contains(err.Error(), "310000") {
		t.Fatalf("expected errcode in error, got %v", err)
	}
}

func TestSignedURLCarriesTimestampAndSign(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	n := New(srv.URL+"/robot/send?access_token=x", "SECtest", 0, nil)
	n.now = func() time.Time { return time.UnixMilli(1700000000000) }

	if outcome, err := n.MaybeNotify(testItem(), analyzer.Enrichment{Importance: 9}); outcome != OutcomeSent || err != nil {
		t.Fatalf("outcome=%q err=%v", outcome, err)
	}
	if !strings.Contains(gotURL, "timestamp=1700000000000") {
		t.Fatalf("url missing timestamp: %s", gotURL)
	}
	if !strings.Contains(gotURL, "sign="+sign(1700000000000, "SECtest")) {
		t.Fatalf("url missing expected sign: %s", gotURL)
	}
}

func TestSignDeterministic(t *testing.T) {
	a := sign(1700000000000, "SECtest")
	b := sign(1700000000000, "SECtest")
	if a == "" || a != b {
		t.Fatalf("sign not deterministic: %q vs %q", a, b)
	}
	if c := sign(1700000000001, "SECtest"); c == a {
		t.Fatalf("different timestamp should yield different sign")
	}
}

func TestEnsureKeywordPrepends(t *testing.T) {
	n := New("https://example.com", "", 7, []string{"财经快讯"})
	out := n.ensureKeyword("没有关键词的正文")
	if !strings.HasPrefix(out, "财经快讯") {
		t.Fatalf("keyword not prepended: %q", out)
	}

	kept := n.ensureKeyword("已包含财经快讯的正文")
	if strings.HasPrefix(kept, "财经快讯\n\n") {
		t.Fatalf("should not prepend when keyword present: %q", kept)
	}
}

func TestAlertTitleTruncation(t *testing.T) {
	long := strings.Repeat("长", 40)
	out := alertTitle(long)
	if got := len([]rune(out)); got != 33 { // 30 字 + "..."
		t.Fatalf("alert title runes = %d: %q", got, out)
	}
	if short := alertTitle("短标题"); short != "短标题" {
		t.Fatalf("short title should pass through: %q", short)
	}
}
