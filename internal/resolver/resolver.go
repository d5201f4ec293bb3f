// Package resolver はメールアドレスからメンバーシップを解決する。
// 3つの独立した検索戦略をOR結合し、結果をTTLキャッシュする。
// ログイン/サインアップのアクセス判定フローから同期的に呼び出される。
package resolver

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/membersync/internal/beacon"
	"github.com/hitoshi/membersync/internal/model"
)

// BeaconAPI はリゾルバーが必要とするBeaconクライアントのインターフェース。
// テスト時にモックに差し替え可能。
type BeaconAPI interface {
	FilterMembershipsByReference(ctx context.Context, field, operator, value string) ([]beacon.MembershipResult, error)
	FindPersonByEmail(ctx context.Context, email string) (*beacon.Person, error)
	ListOrganizationsByPrimaryContact(ctx context.Context, personID string) ([]beacon.Organization, error)
}

// MetricsRecorder は解決結果のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordResolve(outcome string)
	RecordCacheLookup(hit bool)
}

// Config はリゾルバーの設定。
type Config struct {
	// CacheTTL は解決結果のキャッシュ保持時間（デフォルト: 30分）。
	// メンバーシップ失効の反映はこの時間まで遅延しうる（許容済みのトレードオフ）。
	CacheTTL time.Duration
	// BusinessDirectoryMarker は企業メンバーシップを示すタイプ文字列の部分一致マーカー。
	BusinessDirectoryMarker string
}

// DefaultConfig はデフォルトのリゾルバー設定を返す。
func DefaultConfig() Config {
	return Config{
		CacheTTL:                30 * time.Minute,
		BusinessDirectoryMarker: "Business Directory",
	}
}

// Resolver はメールアドレス解決を実行する。
// 呼び出しごとにステートレスで、共有キャッシュのみを跨いで保持する。
type Resolver struct {
	client  BeaconAPI
	logger  *slog.Logger
	metrics MetricsRecorder // nil許容
	config  Config
	cache   *resultCache
}

// NewResolver はResolverの新しいインスタンスを生成する。
func NewResolver(client BeaconAPI, logger *slog.Logger, metrics MetricsRecorder, config Config) *Resolver {
	if config.CacheTTL <= 0 {
		config.CacheTTL = 30 * time.Minute
	}
	if config.BusinessDirectoryMarker == "" {
		config.BusinessDirectoryMarker = "Business Directory"
	}

	return &Resolver{
		client:  client,
		logger:  logger,
		metrics: metrics,
		config:  config,
		cache:   newResultCache(config.CacheTTL, 5*time.Minute),
	}
}

// Close はキャッシュのバックグラウンドゴルーチンを停止する。
func (r *Resolver) Close() {
	r.cache.stop()
}

// Resolve はメールアドレスを解決し、マージ済みのMembershipRecordを返す。
//
// 戦略1（主メンバー一致）と戦略2（追加メンバー一致）は常に実行し、
// 両方が空の場合のみ戦略3（組織主担当者経由）を実行する（コスト削減の短絡）。
// 個々の戦略の上流エラーは警告ログを出して空結果として扱う。
// 全戦略で候補ゼロかついずれかの戦略がエラーだった場合はUPSTREAM_ERROR、
// エラーなしで候補ゼロの場合はBEACON_NOT_FOUNDを返す。
func (r *Resolver) Resolve(ctx context.Context, email string) (*model.MembershipRecord, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return nil, model.NewInvalidEmailError()
	}

	if record, ok := r.cache.get(normalized); ok {
		if r.metrics != nil {
			r.metrics.RecordCacheLookup(true)
		}
		return record, nil
	}
	if r.metrics != nil {
		r.metrics.RecordCacheLookup(false)
	}

	var candidates []beacon.MembershipResult
	var strategyErrors int

	// 戦略1: 主メンバーのメールアドレス一致
	primary, err := r.client.FilterMembershipsByReference(ctx, beacon.FieldPrimaryMember, beacon.OperatorEquals, normalized)
	if err != nil {
		strategyErrors++
		r.logger.Warn("主メンバー検索に失敗しました",
			slog.String("email", normalized),
			slog.String("error", err.Error()),
		)
	} else {
		candidates = append(candidates, primary...)
	}

	// 戦略2: 追加メンバーリストのメールアドレス一致
	additional, err := r.client.FilterMembershipsByReference(ctx, beacon.FieldAdditionalMembers, beacon.OperatorContains, normalized)
	if err != nil {
		strategyErrors++
		r.logger.Warn("追加メンバー検索に失敗しました",
			slog.String("email", normalized),
			slog.String("error", err.Error()),
		)
	} else {
		candidates = append(candidates, additional...)
	}

	// 戦略3: 組織の主担当者経由。戦略1・2が両方空の場合のみ実行する。
	if len(candidates) == 0 {
		orgCandidates, err := r.resolveViaOrganizations(ctx, normalized)
		if err != nil {
			strategyErrors++
		} else {
			candidates = append(candidates, orgCandidates...)
		}
	}

	if len(candidates) == 0 {
		if strategyErrors > 0 {
			if r.metrics != nil {
				r.metrics.RecordResolve("upstream_error")
			}
			return nil, model.NewUpstreamError("全戦略で候補を取得できませんでした")
		}
		if r.metrics != nil {
			r.metrics.RecordResolve("not_found")
		}
		return nil, model.NewBeaconNotFoundError(normalized)
	}

	record := mergeCandidates(normalized, candidates)
	r.cache.set(normalized, record)

	if r.metrics != nil {
		if record.HasCurrentMembership {
			r.metrics.RecordResolve("active")
		} else {
			r.metrics.RecordResolve("inactive")
		}
	}

	return record, nil
}

// resolveViaOrganizations は戦略3を実行する。
// メールアドレス→個人→主担当組織→組織を主メンバーとするメンバーシップ、
// の順に辿り、Activeかつ企業ディレクトリマーカーをタイプに含むもののみを残す。
func (r *Resolver) resolveViaOrganizations(ctx context.Context, email string) ([]beacon.MembershipResult, error) {
	person, err := r.client.FindPersonByEmail(ctx, email)
	if err != nil {
		r.logger.Warn("個人エンティティの検索に失敗しました",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if person == nil {
		return nil, nil
	}

	orgs, err := r.client.ListOrganizationsByPrimaryContact(ctx, person.ID)
	if err != nil {
		r.logger.Warn("主担当組織の検索に失敗しました",
			slog.String("person_id", person.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	var matches []beacon.MembershipResult
	for _, org := range orgs {
		results, err := r.client.FilterMembershipsByReference(ctx, beacon.FieldPrimaryMember, beacon.OperatorEquals, org.ID)
		if err != nil {
			r.logger.Warn("組織メンバーシップの検索に失敗しました",
				slog.String("organization_id", org.ID),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		for _, result := range results {
			if result.Entity.CurrentStatus() != model.MembershipStatusActive {
				continue
			}
			if !typeContainsMarker(result.Entity.Type, r.config.BusinessDirectoryMarker) {
				continue
			}
			matches = append(matches, result)
		}
	}

	return matches, nil
}

// typeContainsMarker はタイプリストのいずれかの要素がマーカー文字列を含むかを返す。
func typeContainsMarker(types []string, marker string) bool {
	for _, t := range types {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

// mergeCandidates は全戦略の候補を1つのMembershipRecordにマージする。
//
//   - MembershipID / JoinedDate は先頭候補（主たるマッチ）から取る。
//   - HasCurrentMembership は候補のいずれかのステータスがActiveならtrue。
//   - AllMembershipTypes は発見順で全候補のタイプを連結する（重複保持）。
//   - Organizations は組織参照をID重複排除して発見順に集める。
//   - 個人フィールドは参照エンティティの「先頭メールアドレス」がクエリと
//     大文字小文字無視で一致するものを優先する。2番目以降のメールアドレスは
//     比較対象にしない（既存呼び出し元が依存している挙動）。一致がなければ発見順で最初の
//     個人参照を使う。個人参照が1つもなければ空のまま（純組織マッチ）。
func mergeCandidates(email string, candidates []beacon.MembershipResult) *model.MembershipRecord {
	record := &model.MembershipRecord{
		MembershipID: candidates[0].Entity.ID,
		JoinedDate:   candidates[0].Entity.StartDate,
	}

	seenOrgs := make(map[string]bool)
	var exactMatch, firstPerson *beacon.Reference

	for i := range candidates {
		c := &candidates[i]

		if c.Entity.CurrentStatus() == model.MembershipStatusActive {
			record.HasCurrentMembership = true
		}

		record.AllMembershipTypes = append(record.AllMembershipTypes, c.Entity.Type...)

		for j := range c.References {
			ref := &c.References[j]
			switch ref.EntityType {
			case "organization":
				if !seenOrgs[ref.ID] {
					seenOrgs[ref.ID] = true
					record.Organizations = append(record.Organizations, model.OrganizationRef{
						ID:   ref.ID,
						Name: ref.Name,
					})
				}
			case "person":
				if firstPerson == nil {
					firstPerson = ref
				}
				if exactMatch == nil && len(ref.Emails) > 0 && strings.EqualFold(ref.Emails[0], email) {
					exactMatch = ref
				}
			}
		}
	}

	person := exactMatch
	if person == nil {
		person = firstPerson
	}
	if person != nil {
		record.PersonID = person.ID
		record.FirstName = person.FirstName
		record.LastName = person.LastName
	}

	return record
}
