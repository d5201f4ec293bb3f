package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/membersync/internal/model"
)

// PostgresMemberRepo はPostgreSQLを使用したメンバーリポジトリ。
type PostgresMemberRepo struct {
	db *sql.DB
}

// NewPostgresMemberRepo はPostgresMemberRepoを生成する。
func NewPostgresMemberRepo(db *sql.DB) *PostgresMemberRepo {
	return &PostgresMemberRepo{db: db}
}

// ListTracked はbeacon_membershipが空でない全メンバー行をid昇順で取得する。
func (r *PostgresMemberRepo) ListTracked(ctx context.Context) ([]*model.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, email, beacon_membership, beacon_membership_status, created_at, updated_at
		 FROM members
		 WHERE beacon_membership <> ''
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("追跡対象メンバーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var members []*model.Member
	for rows.Next() {
		m := &model.Member{}
		var status sql.NullString
		if err := rows.Scan(
			&m.ID, &m.Email, &m.BeaconMembership, &status,
			&m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("メンバー行のスキャンに失敗しました: %w", err)
		}
		m.MembershipStatus = nullStringValue(status)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("メンバー行の読み取り中にエラーが発生しました: %w", err)
	}

	return members, nil
}

// UpdateMembershipStatus は指定メンバーのキャッシュ済みステータスのみを更新する。
// beacon_membership_status以外のカラムには触れない（CRUDフォームとの書き込み競合を最小化する）。
func (r *PostgresMemberRepo) UpdateMembershipStatus(ctx context.Context, memberID, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE members SET beacon_membership_status = $1, updated_at = now() WHERE id = $2`,
		status, memberID,
	)
	if err != nil {
		return fmt.Errorf("メンバーステータスの更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("更新対象のメンバーが見つかりません: %s", memberID)
	}

	return nil
}
