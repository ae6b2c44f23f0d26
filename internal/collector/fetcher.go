package collector

import "context"

// 各采集器共用的请求头，模拟常规浏览器，降低被风控拦截的概率
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// RawRecord 是采集器解析出的原始条目：不同数据源字段差异大，
// 先以松散的键值对形式携带，由 processor 统一归一化。
type RawRecord map[string]any

// String 按 key 取字符串字段，缺失或类型不符返回空串
func (r RawRecord) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Strings 按 key 取字符串列表字段
func (r RawRecord) Strings(key string) []string {
	switch v := r[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Fetcher 抽象每一个数据源：返回原始条目序列。
// 零条结果是合法返回；网络/解析失败必须返回 *FetchError，
// 不允许用伪造数据兜底（下游会推送外部告警，假数据等于假告警）。
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]RawRecord, error)
}

// FetchError 表示某个数据源本轮采集失败（超时、非 2xx、报文异常）。
// 调度方将其视为“该源本轮 0 条”，不中断整个采集周期。
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return "fetch " + e.Source + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
