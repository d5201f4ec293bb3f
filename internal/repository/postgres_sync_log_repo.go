package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/membersync/internal/model"
)

// PostgresSyncLogRepo はPostgreSQLを使用した監査ログリポジトリ。
// 追記と削除のみを提供し、行の更新は行わない。
type PostgresSyncLogRepo struct {
	db *sql.DB
}

// NewPostgresSyncLogRepo はPostgresSyncLogRepoを生成する。
func NewPostgresSyncLogRepo(db *sql.DB) *PostgresSyncLogRepo {
	return &PostgresSyncLogRepo{db: db}
}

// Append は監査ログを1件追記する。
// IDが未設定の場合は新規UUIDを採番し、CreatedAtが未設定の場合は現在時刻を使用する。
// テーブル未作成などで失敗した場合はエラーをそのまま返す。
// 呼び出し元はこの失敗でステータス更新を妨げてはならない。
func (r *PostgresSyncLogRepo) Append(ctx context.Context, entry *model.SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO beacon_sync_logs
		 (id, entity_type, member_id, company_id, old_status, new_status, beacon_membership_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, string(entry.EntityType),
		nullString(entry.MemberID), nullString(entry.CompanyID),
		entry.OldStatus, entry.NewStatus,
		entry.BeaconMembershipID, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("監査ログの追記に失敗しました: %w", err)
	}
	return nil
}

// DeleteOlderThan は指定時刻より古い監査ログを削除し、削除件数を返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (r *PostgresSyncLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM beacon_sync_logs WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("監査ログの削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	return deleted, nil
}
