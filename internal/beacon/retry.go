package beacon

import (
	"context"
	"time"
)

// CallOutcome はHTTPステータスコードに基づくAPI呼び出し結果の分類。
type CallOutcome int

const (
	// OutcomeOK は呼び出し成功（2xx）。
	OutcomeOK CallOutcome = iota
	// OutcomeNotFound は対象エンティティなし（404）。正当な終端結果でありリトライしない。
	OutcomeNotFound
	// OutcomeRateLimited はレート制限（429）。長めのバックオフでリトライする。
	OutcomeRateLimited
	// OutcomeTransient はその他の非2xx。短いバックオフで1回だけリトライする。
	OutcomeTransient
)

const (
	// maxRateLimitRetries は429に対する追加リトライ回数の上限。
	maxRateLimitRetries = 2
	// maxTransientRetries はその他の失敗に対する追加リトライ回数の上限。
	maxTransientRetries = 1
	// defaultRateLimitWait は429リトライの基準待ち時間。実際の待ちは (attempt+1) * 基準。
	defaultRateLimitWait = 2 * time.Second
	// defaultTransientWait はその他失敗リトライの基準待ち時間。
	defaultTransientWait = 1 * time.Second
)

// ClassifyStatus はHTTPステータスコードを呼び出し結果に分類する。
func ClassifyStatus(statusCode int) CallOutcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeOK
	case statusCode == 404:
		return OutcomeNotFound
	case statusCode == 429:
		return OutcomeRateLimited
	default:
		return OutcomeTransient
	}
}

// RetryWait はリトライ前の待ち時間を計算する。
// attemptは0始まりの試行回数で、待ちは (attempt+1) * 基準待ち時間。
func RetryWait(outcome CallOutcome, attempt int, rateLimitWait, transientWait time.Duration) time.Duration {
	switch outcome {
	case OutcomeRateLimited:
		return time.Duration(attempt+1) * rateLimitWait
	case OutcomeTransient:
		return time.Duration(attempt+1) * transientWait
	default:
		return 0
	}
}

// sleepContext はコンテキストキャンセルを考慮して待機する。
// キャンセルされた場合はctx.Err()を返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
