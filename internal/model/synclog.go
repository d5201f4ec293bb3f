package model

import "time"

// SyncEntityType は同期ログの対象エンティティ種別。
type SyncEntityType string

const (
	// SyncEntityMember はメンバー行のステータス変更を示す。
	SyncEntityMember SyncEntityType = "member"
	// SyncEntityCompany は企業行のステータス変更を示す。
	SyncEntityCompany SyncEntityType = "company"
)

// SyncLogEntry はステータス変更1件の追記専用監査ログ。
// 変更検出ごとに1行書き込まれ、保持期間（7日）経過後にスケジューラ自身が削除する。
// 監査ログへの書き込み失敗はステータス更新を妨げてはならない。
type SyncLogEntry struct {
	ID                 string
	EntityType         SyncEntityType
	MemberID           string // EntityTypeがmemberのときのみ設定
	CompanyID          string // EntityTypeがcompanyのときのみ設定
	OldStatus          string
	NewStatus          string
	BeaconMembershipID string
	CreatedAt          time.Time
}
