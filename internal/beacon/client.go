// Package beacon はBeacon CRM APIのクライアントを提供する。
// エンティティの取得/フィルタ呼び出しと、レート制限を考慮した
// リトライ/バックオフ戦略を含む。
package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// フィルタ演算子
const (
	// OperatorEquals は完全一致フィルタ。
	OperatorEquals = "eq"
	// OperatorContains は参照リストへの包含フィルタ。
	OperatorContains = "contains"
)

// メンバーシップエンティティの参照フィールド名
const (
	// FieldPrimaryMember は主メンバー参照フィールド。
	FieldPrimaryMember = "primary_member"
	// FieldAdditionalMembers は追加メンバー参照リストフィールド。
	FieldAdditionalMembers = "additional_members"
)

// ErrUpstream はリトライ上限まで試行しても呼び出しが成功しなかったことを示す。
// エラーチェーンに含まれるため errors.Is で判定できる。
var ErrUpstream = errors.New("beacon API呼び出しに失敗")

// MembershipEntity はBeacon CRM上のメンバーシップエンティティ。
// statusとtypeはいずれも文字列リストで返る（先頭要素が現在値）。
type MembershipEntity struct {
	ID                string   `json:"id"`
	Status            []string `json:"status"`
	Type              []string `json:"type"`
	StartDate         string   `json:"start_date,omitempty"`
	PrimaryMember     []string `json:"primary_member,omitempty"`
	AdditionalMembers []string `json:"additional_members,omitempty"`
}

// CurrentStatus はステータスリストの先頭要素を返す。空リストの場合は空文字列。
func (m *MembershipEntity) CurrentStatus() string {
	if len(m.Status) == 0 {
		return ""
	}
	return m.Status[0]
}

// Reference はフィルタ結果に同梱される参照先エンティティ（個人または組織）。
type Reference struct {
	ID         string   `json:"id"`
	EntityType string   `json:"entity_type"` // "person" または "organization"
	FirstName  string   `json:"first_name,omitempty"`
	LastName   string   `json:"last_name,omitempty"`
	Name       string   `json:"name,omitempty"`
	Emails     []string `json:"emails,omitempty"`
}

// MembershipResult はメンバーシップエンティティと参照先エンティティの組。
type MembershipResult struct {
	Entity     MembershipEntity `json:"entity"`
	References []Reference      `json:"references"`
}

// Person はBeacon CRM上の個人エンティティ。
type Person struct {
	ID        string   `json:"id"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Emails    []string `json:"emails,omitempty"`
}

// Organization はBeacon CRM上の組織エンティティ。
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Config はBeaconクライアントの設定。
type Config struct {
	// BaseURL はAPIのベースURL（例: https://api.beaconcrm.org/v1）。
	BaseURL string
	// APIToken はBearerトークン。
	APIToken string
	// AccountID はアカウント識別子。URLパスに埋め込まれる。
	AccountID string
	// RateLimitWait は429リトライの基準待ち時間（デフォルト: 2秒）。
	RateLimitWait time.Duration
	// TransientWait はその他失敗リトライの基準待ち時間（デフォルト: 1秒）。
	TransientWait time.Duration
}

// StatusRecorder はAPI呼び出し結果のメトリクス記録インターフェース。
type StatusRecorder interface {
	RecordUpstreamStatus(statusCode int)
	RecordUpstreamLatency(duration time.Duration)
}

// Client はBeacon CRM APIのクライアント。
// 全呼び出しにBearerトークンとアプリケーションヘッダを付与し、
// 429は基準2秒×(試行+1)で最大2回、その他の失敗は基準1秒×(試行+1)で
// 1回だけリトライする。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     Config
	metrics    StatusRecorder // nil許容
	endpoint   string         // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
// トークンまたはアカウントIDが未設定の場合はエラーを返す（設定エラーはリトライ対象外）。
func NewClient(httpClient *http.Client, logger *slog.Logger, config Config, metrics StatusRecorder) (*Client, error) {
	if config.APIToken == "" {
		return nil, fmt.Errorf("beacon APIトークンが設定されていません")
	}
	if config.AccountID == "" {
		return nil, fmt.Errorf("beaconアカウントIDが設定されていません")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.beaconcrm.org/v1"
	}
	if config.RateLimitWait <= 0 {
		config.RateLimitWait = defaultRateLimitWait
	}
	if config.TransientWait <= 0 {
		config.TransientWait = defaultTransientWait
	}

	return &Client{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
		metrics:    metrics,
		endpoint:   fmt.Sprintf("%s/account/%s", config.BaseURL, config.AccountID),
	}, nil
}

// FindMembership はメンバーシップエンティティをIDで1件取得する。
// 404またはリトライ上限到達時は (nil, nil) を返す。
// スケジューラはこれを「今回スキップ」として扱い、実行を中断しない。
func (c *Client) FindMembership(ctx context.Context, membershipID string) (*MembershipResult, error) {
	url := fmt.Sprintf("%s/entity/membership/%s", c.endpoint, membershipID)

	body, outcome, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		if errors.Is(err, ErrUpstream) {
			c.logger.Warn("メンバーシップ取得をリトライ上限で打ち切りました",
				slog.String("membership_id", membershipID),
				slog.String("error", err.Error()),
			)
			return nil, nil
		}
		return nil, err
	}
	if outcome == OutcomeNotFound {
		return nil, nil
	}

	var result MembershipResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("メンバーシップレスポンスのパースに失敗しました: %w", err)
	}
	return &result, nil
}

// FilterMembershipsByReference は参照フィールドに対する条件で
// メンバーシップエンティティをフィルタする。
// 結果なしは空スライス、リトライ上限到達時はエラーを返す
// （リゾルバーが「真の不在」と「上流障害」を区別するため）。
func (c *Client) FilterMembershipsByReference(ctx context.Context, field, operator, value string) ([]MembershipResult, error) {
	url := fmt.Sprintf("%s/entity/membership/filter", c.endpoint)
	reqBody := filterRequest{
		Filters: []filterCondition{{Field: field, Operator: operator, Value: value}},
	}

	body, outcome, err := c.do(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeNotFound {
		return nil, nil
	}

	var resp struct {
		Results []MembershipResult `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("メンバーシップフィルタレスポンスのパースに失敗しました: %w", err)
	}
	return resp.Results, nil
}

// FindPersonByEmail はメールアドレスで個人エンティティを検索する。
// 見つからない場合は (nil, nil) を返す。複数ヒット時は先頭を返す。
func (c *Client) FindPersonByEmail(ctx context.Context, email string) (*Person, error) {
	url := fmt.Sprintf("%s/entity/person/filter", c.endpoint)
	reqBody := filterRequest{
		Filters: []filterCondition{{Field: "emails", Operator: OperatorContains, Value: email}},
	}

	body, outcome, err := c.do(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeNotFound {
		return nil, nil
	}

	var resp struct {
		Results []struct {
			Entity Person `json:"entity"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("個人フィルタレスポンスのパースに失敗しました: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	person := resp.Results[0].Entity
	return &person, nil
}

// ListOrganizationsByPrimaryContact は主担当者参照が指定個人IDである
// 組織エンティティを列挙する。結果なしは空スライス。
func (c *Client) ListOrganizationsByPrimaryContact(ctx context.Context, personID string) ([]Organization, error) {
	url := fmt.Sprintf("%s/entity/organization/filter", c.endpoint)
	reqBody := filterRequest{
		Filters: []filterCondition{{Field: "primary_contact", Operator: OperatorEquals, Value: personID}},
	}

	body, outcome, err := c.do(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeNotFound {
		return nil, nil
	}

	var resp struct {
		Results []struct {
			Entity Organization `json:"entity"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("組織フィルタレスポンスのパースに失敗しました: %w", err)
	}

	orgs := make([]Organization, 0, len(resp.Results))
	for _, r := range resp.Results {
		orgs = append(orgs, r.Entity)
	}
	return orgs, nil
}

// filterCondition はフィルタAPIの条件1件。
type filterCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// filterRequest はフィルタAPIのリクエストボディ。
type filterRequest struct {
	Filters []filterCondition `json:"filters"`
}

// do はリトライ/バックオフ付きでHTTPリクエストを実行する。
// 成功時はレスポンスボディと結果分類を返す。404はエラーではなく
// OutcomeNotFoundとして返す。リトライ上限到達時はErrUpstreamを含むエラーを返す。
func (c *Client) do(ctx context.Context, method, url string, reqBody interface{}) ([]byte, CallOutcome, error) {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, OutcomeTransient, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
	}

	var rateLimitRetries, transientRetries int
	attempt := 0

	for {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, OutcomeTransient, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
		req.Header.Set("Beacon-Application", "developer_api")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			// ネットワークエラーはその他失敗と同じ扱いで1回だけリトライする
			if ctx.Err() != nil {
				return nil, OutcomeTransient, ctx.Err()
			}
			c.logger.Warn("beacon APIへのリクエストに失敗しました",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			if transientRetries < maxTransientRetries {
				wait := RetryWait(OutcomeTransient, attempt, c.config.RateLimitWait, c.config.TransientWait)
				if sleepErr := sleepContext(ctx, wait); sleepErr != nil {
					return nil, OutcomeTransient, sleepErr
				}
				transientRetries++
				attempt++
				continue
			}
			return nil, OutcomeTransient, fmt.Errorf("%w: %v", ErrUpstream, err)
		}

		if c.metrics != nil {
			c.metrics.RecordUpstreamStatus(resp.StatusCode)
			c.metrics.RecordUpstreamLatency(time.Since(start))
		}

		outcome := ClassifyStatus(resp.StatusCode)

		switch outcome {
		case OutcomeOK:
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return nil, OutcomeTransient, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", readErr)
			}
			return body, OutcomeOK, nil

		case OutcomeNotFound:
			resp.Body.Close()
			return nil, OutcomeNotFound, nil

		case OutcomeRateLimited:
			resp.Body.Close()
			if rateLimitRetries < maxRateLimitRetries {
				wait := RetryWait(OutcomeRateLimited, attempt, c.config.RateLimitWait, c.config.TransientWait)
				c.logger.Warn("beacon APIがレート制限を返しました",
					slog.String("url", url),
					slog.Int("attempt", attempt),
					slog.Duration("wait", wait),
				)
				if sleepErr := sleepContext(ctx, wait); sleepErr != nil {
					return nil, OutcomeRateLimited, sleepErr
				}
				rateLimitRetries++
				attempt++
				continue
			}
			return nil, OutcomeRateLimited, fmt.Errorf("%w: レート制限が解消しませんでした（HTTP 429）", ErrUpstream)

		default: // OutcomeTransient
			resp.Body.Close()
			if transientRetries < maxTransientRetries {
				wait := RetryWait(OutcomeTransient, attempt, c.config.RateLimitWait, c.config.TransientWait)
				c.logger.Warn("beacon APIがエラーステータスを返しました",
					slog.String("url", url),
					slog.Int("http_status", resp.StatusCode),
					slog.Int("attempt", attempt),
					slog.Duration("wait", wait),
				)
				if sleepErr := sleepContext(ctx, wait); sleepErr != nil {
					return nil, OutcomeTransient, sleepErr
				}
				transientRetries++
				attempt++
				continue
			}
			return nil, OutcomeTransient, fmt.Errorf("%w: ステータス %d が返されました", ErrUpstream, resp.StatusCode)
		}
	}
}
