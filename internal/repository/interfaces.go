// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/membersync/internal/model"
)

// MemberRepository はメンバー行の永続化インターフェース。
// スケジューラはid/beacon_membershipの読み取りとステータス書き込みのみを行い、
// その他のフィールドはスコープ外のCRUDフォームが所有する。
type MemberRepository interface {
	// ListTracked はbeacon_membershipが空でない全メンバー行を取得する。
	// 並び順はid昇順で安定している（ローテーション選択の前提）。
	ListTracked(ctx context.Context) ([]*model.Member, error)

	// UpdateMembershipStatus は指定メンバーのキャッシュ済みステータスを更新する。
	UpdateMembershipStatus(ctx context.Context, memberID, status string) error
}

// CompanyRepository は企業行の永続化インターフェース。
type CompanyRepository interface {
	// ListTracked はbeacon_membership_idが空でない全企業行を取得する。
	// 並び順はid昇順で安定している。
	ListTracked(ctx context.Context) ([]*model.Company, error)

	// UpdateMembershipStatus は指定企業のキャッシュ済みステータスを更新する。
	UpdateMembershipStatus(ctx context.Context, companyID, status string) error
}

// SyncLogRepository は監査ログの永続化インターフェース。
// 追記と削除のみで、行の更新は行わない。
// テーブルが未作成の環境を許容するため、実装はエラーをそのまま返し、
// 呼び出し元（スケジューラ）が警告ログのみで処理を継続する。
type SyncLogRepository interface {
	// Append は監査ログを1件追記する。
	Append(ctx context.Context, entry *model.SyncLogEntry) error

	// DeleteOlderThan は指定時刻より古い監査ログを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから値を取り出す。NULLの場合は空文字列。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
