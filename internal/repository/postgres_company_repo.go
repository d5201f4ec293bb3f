package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/membersync/internal/model"
)

// PostgresCompanyRepo はPostgreSQLを使用した企業リポジトリ。
type PostgresCompanyRepo struct {
	db *sql.DB
}

// NewPostgresCompanyRepo はPostgresCompanyRepoを生成する。
func NewPostgresCompanyRepo(db *sql.DB) *PostgresCompanyRepo {
	return &PostgresCompanyRepo{db: db}
}

// ListTracked はbeacon_membership_idが空でない全企業行をid昇順で取得する。
func (r *PostgresCompanyRepo) ListTracked(ctx context.Context) ([]*model.Company, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, beacon_membership_id, beacon_membership_status, created_at, updated_at
		 FROM companies
		 WHERE beacon_membership_id <> ''
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("追跡対象企業の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var companies []*model.Company
	for rows.Next() {
		c := &model.Company{}
		var status sql.NullString
		if err := rows.Scan(
			&c.ID, &c.Name, &c.BeaconMembershipID, &status,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("企業行のスキャンに失敗しました: %w", err)
		}
		c.MembershipStatus = nullStringValue(status)
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("企業行の読み取り中にエラーが発生しました: %w", err)
	}

	return companies, nil
}

// UpdateMembershipStatus は指定企業のキャッシュ済みステータスのみを更新する。
func (r *PostgresCompanyRepo) UpdateMembershipStatus(ctx context.Context, companyID, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE companies SET beacon_membership_status = $1, updated_at = now() WHERE id = $2`,
		status, companyID,
	)
	if err != nil {
		return fmt.Errorf("企業ステータスの更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("更新対象の企業が見つかりません: %s", companyID)
	}

	return nil
}
