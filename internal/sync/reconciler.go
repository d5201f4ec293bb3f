// Package sync はキャッシュ済みメンバーシップステータスの突合を実行する。
// ローカルストアの追跡対象行をBeacon CRMの現在値と比較し、
// 差分のみを書き戻して監査ログに記録する。
package sync

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/membersync/internal/beacon"
	"github.com/hitoshi/membersync/internal/model"
	"github.com/hitoshi/membersync/internal/repository"
)

// BeaconFinder は突合が必要とするBeaconクライアントのインターフェース。
// 404とリトライ上限到達はともに (nil, nil) を返す（当該項目をスキップする）。
type BeaconFinder interface {
	FindMembership(ctx context.Context, membershipID string) (*beacon.MembershipResult, error)
}

// MetricsRecorder は突合実行のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordSyncRun(timedOut bool)
	RecordSyncDuration(duration time.Duration)
	RecordStatusChange(entityType string)
}

// Config は突合スケジューラの設定。
type Config struct {
	// DailyCap は1回の実行でエンティティ種別ごとに処理する最大件数（デフォルト: 300）。
	DailyCap int
	// BatchSize は連続処理する項目数（デフォルト: 3）。
	BatchSize int
	// ItemDelay はバッチ内の項目間の待ち時間（デフォルト: 200ミリ秒）。
	ItemDelay time.Duration
	// BatchDelay はバッチ間の待ち時間（デフォルト: 1秒）。
	BatchDelay time.Duration
	// TimeBudget は1回の実行の実時間上限（デフォルト: 25秒）。
	// 超過時は残りを処理せず打ち切る（それまでの更新は有効のまま）。
	TimeBudget time.Duration
	// LogRetentionDays は監査ログの保持日数（デフォルト: 7日）。
	LogRetentionDays int
}

// DefaultConfig はデフォルトの突合設定を返す。
func DefaultConfig() Config {
	return Config{
		DailyCap:         300,
		BatchSize:        3,
		ItemDelay:        200 * time.Millisecond,
		BatchDelay:       time.Second,
		TimeBudget:       25 * time.Second,
		LogRetentionDays: 7,
	}
}

// TypeSummary はエンティティ種別ごとの実行結果。
type TypeSummary struct {
	Tracked   int `json:"tracked"`   // 追跡対象の総数
	Selected  int `json:"selected"`  // 当日ローテーションで選択された件数
	Processed int `json:"processed"` // 実際に突合した件数（打ち切りで減りうる）
	Updated   int `json:"updated"`   // ステータス差分を書き戻した件数
}

// Summary は1回の突合実行の結果。
type Summary struct {
	Members    TypeSummary `json:"members"`
	Companies  TypeSummary `json:"companies"`
	Errors     int         `json:"errors"`
	PrunedLogs int64       `json:"pruned_logs"`
	TimedOut   bool        `json:"timed_out"`
	DurationMs int64       `json:"duration_ms"`
}

// syncItem はエンティティ種別を吸収した突合対象1件。
type syncItem struct {
	entityType   model.SyncEntityType
	localID      string
	beaconID     string
	cachedStatus string
}

// Reconciler は突合の実行本体。
type Reconciler struct {
	client    BeaconFinder
	members   repository.MemberRepository
	companies repository.CompanyRepository
	syncLogs  repository.SyncLogRepository
	logger    *slog.Logger
	metrics   MetricsRecorder // nil許容
	config    Config

	// nowFunc はテストで時刻を固定するためのフック。
	nowFunc func() time.Time
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(
	client BeaconFinder,
	members repository.MemberRepository,
	companies repository.CompanyRepository,
	syncLogs repository.SyncLogRepository,
	logger *slog.Logger,
	metrics MetricsRecorder,
	config Config,
) *Reconciler {
	if config.DailyCap <= 0 {
		config.DailyCap = 300
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 3
	}
	if config.TimeBudget <= 0 {
		config.TimeBudget = 25 * time.Second
	}
	if config.LogRetentionDays <= 0 {
		config.LogRetentionDays = 7
	}

	return &Reconciler{
		client:    client,
		members:   members,
		companies: companies,
		syncLogs:  syncLogs,
		logger:    logger,
		metrics:   metrics,
		config:    config,
		nowFunc:   time.Now,
	}
}

// RunOnce は突合を1回実行する。
//
// メンバー→企業の順で処理する。各種別とも追跡対象を日次ローテーションで
// 最大DailyCap件まで選択し、BatchSize件ずつ突合する。バッチ開始前に
// 実時間上限を確認し、超過していれば残りを打ち切る。
// 個々の項目の失敗（取得不可・更新失敗）は実行を中断しない。
// 追跡対象の一覧取得の失敗のみハード失敗としてエラーを返す
// （片方の種別が失敗してももう片方の処理は試みる）。
func (r *Reconciler) RunOnce(ctx context.Context) (*Summary, error) {
	start := r.nowFunc()
	deadline := start.Add(r.config.TimeBudget)
	dayOfYear := start.YearDay()

	summary := &Summary{}
	var listFailures int

	memberItems, tracked, err := r.loadMemberItems(ctx)
	if err != nil {
		listFailures++
		summary.Errors++
		r.logger.Error("追跡対象メンバーの一覧取得に失敗しました", slog.String("error", err.Error()))
	} else {
		summary.Members.Tracked = tracked
		selected := selectRotation(memberItems, dayOfYear, r.config.DailyCap)
		summary.Members.Selected = len(selected)
		summary.TimedOut = r.processItems(ctx, selected, deadline, &summary.Members, summary)
	}

	if !summary.TimedOut {
		companyItems, tracked, err := r.loadCompanyItems(ctx)
		if err != nil {
			listFailures++
			summary.Errors++
			r.logger.Error("追跡対象企業の一覧取得に失敗しました", slog.String("error", err.Error()))
		} else {
			summary.Companies.Tracked = tracked
			selected := selectRotation(companyItems, dayOfYear, r.config.DailyCap)
			summary.Companies.Selected = len(selected)
			summary.TimedOut = r.processItems(ctx, selected, deadline, &summary.Companies, summary)
		}
	}

	// 保持期間を過ぎた監査ログの削除。失敗しても実行結果には影響しない。
	cutoff := start.AddDate(0, 0, -r.config.LogRetentionDays)
	pruned, err := r.syncLogs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		summary.Errors++
		r.logger.Warn("監査ログの削除に失敗しました", slog.String("error", err.Error()))
	} else {
		summary.PrunedLogs = pruned
	}

	duration := r.nowFunc().Sub(start)
	summary.DurationMs = duration.Milliseconds()

	if r.metrics != nil {
		r.metrics.RecordSyncRun(summary.TimedOut)
		r.metrics.RecordSyncDuration(duration)
	}

	r.logger.Info("メンバーシップ突合を完了しました",
		slog.Int("members_processed", summary.Members.Processed),
		slog.Int("members_updated", summary.Members.Updated),
		slog.Int("companies_processed", summary.Companies.Processed),
		slog.Int("companies_updated", summary.Companies.Updated),
		slog.Int("errors", summary.Errors),
		slog.Int64("pruned_logs", summary.PrunedLogs),
		slog.Bool("timed_out", summary.TimedOut),
		slog.Int64("duration_ms", summary.DurationMs),
	)

	if listFailures > 0 {
		return summary, model.NewSyncFailedError("追跡対象の一覧取得に失敗しました")
	}
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

// Start は指定間隔で突合を繰り返し実行する。ctxのキャンセルで停止する。
// 起動直後に1回実行し、以後は間隔ごとに実行する。
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	r.logger.Info("突合スケジューラを開始します", slog.Duration("interval", interval))

	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("突合の実行に失敗しました", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("突合スケジューラを停止します")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("突合の実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// loadMemberItems は追跡対象メンバーをsyncItemに変換して返す。
func (r *Reconciler) loadMemberItems(ctx context.Context) ([]syncItem, int, error) {
	members, err := r.members.ListTracked(ctx)
	if err != nil {
		return nil, 0, err
	}

	items := make([]syncItem, 0, len(members))
	for _, m := range members {
		items = append(items, syncItem{
			entityType:   model.SyncEntityMember,
			localID:      m.ID,
			beaconID:     m.BeaconMembership,
			cachedStatus: m.MembershipStatus,
		})
	}
	return items, len(items), nil
}

// loadCompanyItems は追跡対象企業をsyncItemに変換して返す。
func (r *Reconciler) loadCompanyItems(ctx context.Context) ([]syncItem, int, error) {
	companies, err := r.companies.ListTracked(ctx)
	if err != nil {
		return nil, 0, err
	}

	items := make([]syncItem, 0, len(companies))
	for _, c := range companies {
		items = append(items, syncItem{
			entityType:   model.SyncEntityCompany,
			localID:      c.ID,
			beaconID:     c.BeaconMembershipID,
			cachedStatus: c.MembershipStatus,
		})
	}
	return items, len(items), nil
}

// processItems は選択済み項目をバッチ処理する。実時間上限で打ち切った場合はtrueを返す。
func (r *Reconciler) processItems(ctx context.Context, items []syncItem, deadline time.Time, ts *TypeSummary, summary *Summary) bool {
	for batchStart := 0; batchStart < len(items); batchStart += r.config.BatchSize {
		// バッチ開始前にのみ上限を確認する。バッチ途中では打ち切らない。
		if r.nowFunc().After(deadline) {
			r.logger.Warn("実時間上限に達したため突合を打ち切ります",
				slog.Int("remaining", len(items)-batchStart),
			)
			return true
		}

		if batchStart > 0 {
			if err := sleepContext(ctx, r.config.BatchDelay); err != nil {
				return false
			}
		}

		batchEnd := batchStart + r.config.BatchSize
		if batchEnd > len(items) {
			batchEnd = len(items)
		}

		for i := batchStart; i < batchEnd; i++ {
			if i > batchStart {
				if err := sleepContext(ctx, r.config.ItemDelay); err != nil {
					return false
				}
			}
			r.reconcileItem(ctx, items[i], ts, summary)
			ts.Processed++
		}
	}
	return false
}

// reconcileItem は1件の突合を実行する。
// 取得不可はスキップ、差分なしは何もしない、差分ありはステータスを書き戻して
// 監査ログに追記する（ログ追記の失敗は警告のみで更新は有効のまま）。
func (r *Reconciler) reconcileItem(ctx context.Context, item syncItem, ts *TypeSummary, summary *Summary) {
	result, err := r.client.FindMembership(ctx, item.beaconID)
	if err != nil {
		summary.Errors++
		r.logger.Warn("メンバーシップの取得に失敗しました",
			slog.String("entity_type", string(item.entityType)),
			slog.String("id", item.localID),
			slog.String("error", err.Error()),
		)
		return
	}
	if result == nil {
		// 404またはリトライ上限到達。今回の実行ではこの項目を見つけられなかった。
		r.logger.Info("メンバーシップが見つからないためスキップします",
			slog.String("entity_type", string(item.entityType)),
			slog.String("beacon_membership_id", item.beaconID),
		)
		return
	}

	oldStatus := strings.TrimSpace(item.cachedStatus)
	newStatus := strings.TrimSpace(result.Entity.CurrentStatus())
	if oldStatus == newStatus {
		return
	}

	if err := r.updateStatus(ctx, item, newStatus); err != nil {
		summary.Errors++
		r.logger.Error("ステータスの書き戻しに失敗しました",
			slog.String("entity_type", string(item.entityType)),
			slog.String("id", item.localID),
			slog.String("error", err.Error()),
		)
		return
	}
	ts.Updated++

	if r.metrics != nil {
		r.metrics.RecordStatusChange(string(item.entityType))
	}
	r.logger.Info("キャッシュ済みステータスを更新しました",
		slog.String("entity_type", string(item.entityType)),
		slog.String("id", item.localID),
		slog.String("old_status", oldStatus),
		slog.String("new_status", newStatus),
	)

	entry := &model.SyncLogEntry{
		EntityType:         item.entityType,
		OldStatus:          oldStatus,
		NewStatus:          newStatus,
		BeaconMembershipID: item.beaconID,
	}
	switch item.entityType {
	case model.SyncEntityMember:
		entry.MemberID = item.localID
	case model.SyncEntityCompany:
		entry.CompanyID = item.localID
	}
	if err := r.syncLogs.Append(ctx, entry); err != nil {
		r.logger.Warn("監査ログの追記に失敗しました",
			slog.String("entity_type", string(item.entityType)),
			slog.String("id", item.localID),
			slog.String("error", err.Error()),
		)
	}
}

// updateStatus はエンティティ種別に応じたリポジトリへ書き戻す。
func (r *Reconciler) updateStatus(ctx context.Context, item syncItem, status string) error {
	if item.entityType == model.SyncEntityCompany {
		return r.companies.UpdateMembershipStatus(ctx, item.localID, status)
	}
	return r.members.UpdateMembershipStatus(ctx, item.localID, status)
}

// sleepContext はctxのキャンセルを考慮して待機する。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
