package beacon

import (
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       CallOutcome
	}{
		{"200は成功", 200, OutcomeOK},
		{"201は成功", 201, OutcomeOK},
		{"404はNotFound", 404, OutcomeNotFound},
		{"429はレート制限", 429, OutcomeRateLimited},
		{"500はその他失敗", 500, OutcomeTransient},
		{"502はその他失敗", 502, OutcomeTransient},
		{"401はその他失敗", 401, OutcomeTransient},
		{"403はその他失敗", 403, OutcomeTransient},
		{"400はその他失敗", 400, OutcomeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStatus(tt.statusCode); got != tt.want {
				t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.statusCode, got, tt.want)
			}
		})
	}
}

func TestRetryWait_RateLimited(t *testing.T) {
	// 429の待ちは (attempt+1) * 2s
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 6 * time.Second},
	}

	for _, tt := range tests {
		got := RetryWait(OutcomeRateLimited, tt.attempt, 2*time.Second, 1*time.Second)
		if got != tt.want {
			t.Errorf("RetryWait(rate-limited, attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryWait_Transient(t *testing.T) {
	// その他失敗の待ちは (attempt+1) * 1s
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
	}

	for _, tt := range tests {
		got := RetryWait(OutcomeTransient, tt.attempt, 2*time.Second, 1*time.Second)
		if got != tt.want {
			t.Errorf("RetryWait(transient, attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryWait_NoWaitForTerminalOutcomes(t *testing.T) {
	if got := RetryWait(OutcomeOK, 0, 2*time.Second, 1*time.Second); got != 0 {
		t.Errorf("成功に待ち時間は不要: got %v", got)
	}
	if got := RetryWait(OutcomeNotFound, 0, 2*time.Second, 1*time.Second); got != 0 {
		t.Errorf("404に待ち時間は不要: got %v", got)
	}
}

func TestCurrentStatus(t *testing.T) {
	m := &MembershipEntity{Status: []string{"Active", "Pending"}}
	if got := m.CurrentStatus(); got != "Active" {
		t.Errorf("CurrentStatus = %q, want Active（先頭要素）", got)
	}

	empty := &MembershipEntity{}
	if got := empty.CurrentStatus(); got != "" {
		t.Errorf("空リストのCurrentStatus = %q, want 空文字列", got)
	}
}
