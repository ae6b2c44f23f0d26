package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// SourceConfig 单个数据源的显式配置，替代散落的字符串键值
type SourceConfig struct {
	Name     string
	BaseURL  string
	Enabled  bool
	Priority int
	Headers  map[string]string
}

type Config struct {
	AppPort string

	PostgresDSN string
	RedisAddr   string

	CronSpec string

	// FetchTimeoutSec 单源单次抓取的超时秒数
	FetchTimeoutSec int

	// EnabledSources 逗号分隔的数据源名单，例如 "eastmoney,stcn,sina"
	EnabledSources []string

	DingTalkWebhook     string
	DingTalkSecret      string
	ImportanceThreshold int
	NotifyKeywords      []string

	KeywordLexiconPath string
	TagTaxonomyPath    string
}

func Load() *Config {
	cfg := &Config{
		AppPort:     getEnv("APP_PORT", "9000"),
		PostgresDSN: getEnv("POSTGRES_DSN", "host=localhost user=finnews password=finnews dbname=finnews port=5432 sslmode=disable TimeZone=Asia/Shanghai"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		CronSpec:    getEnv("CRON_SPEC", "*/30 * * * *"),

		FetchTimeoutSec: getEnvInt("FETCH_TIMEOUT_SECONDS", 40),

		EnabledSources: splitList(getEnv("NEWS_SOURCES", "eastmoney,stcn,sina")),

		DingTalkWebhook:     getEnv("DINGTALK_WEBHOOK", ""),
		DingTalkSecret:      getEnv("DINGTALK_SECRET", ""),
		ImportanceThreshold: getEnvInt("IMPORTANCE_THRESHOLD", 7),
		NotifyKeywords:      splitList(getEnv("DINGTALK_KEYWORDS", "财经快讯")),

		KeywordLexiconPath: getEnv("KEYWORD_LEXICON_PATH", "data/keywords.yaml"),
		TagTaxonomyPath:    getEnv("TAG_TAXONOMY_PATH", "data/tags.yaml"),
	}

	log.Printf("config loaded: port=%s cron=%s sources=%v threshold=%d",
		cfg.AppPort, cfg.CronSpec, cfg.EnabledSources, cfg.ImportanceThreshold)
	return cfg
}

// Sources 返回所有已知数据源的显式配置，Enabled 取决于名单
func (c *Config) Sources() []SourceConfig {
	known := []SourceConfig{
		{Name: "eastmoney", BaseURL: "https://kuaixun.eastmoney.com/", Priority: 1},
		{Name: "stcn", BaseURL: "https://www.stcn.com/article/list/kx.html", Priority: 2},
		{Name: "sina", BaseURL: "https://finance.sina.com.cn/7x24/", Priority: 3},
	}

	enabled := make(map[string]bool, len(c.EnabledSources))
	for _, name := range c.EnabledSources {
		enabled[name] = true
	}
	for i := range known {
		known[i].Enabled = enabled[known[i].Name]
	}
	return known
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

// splitList 解析逗号分隔列表，去空白、去空项
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
