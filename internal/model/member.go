// Package model はドメインモデルを定義する。
package model

import "time"

// Member はローカルストアのメンバー（個人）行を表す。
// BeaconMembershipが空でない行のみが同期の追跡対象となる。
type Member struct {
	ID               string
	Email            string
	BeaconMembership string // Beacon CRM上のメンバーシップエンティティID
	MembershipStatus string // キャッシュ済みステータス（Active / Lapsed など）
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Tracked はこのメンバーが同期の追跡対象かどうかを返す。
func (m *Member) Tracked() bool {
	return m.BeaconMembership != ""
}

// Company はローカルストアの企業行を表す。
// BeaconMembershipIDが空でない行のみが同期の追跡対象となる。
type Company struct {
	ID                 string
	Name               string
	BeaconMembershipID string
	MembershipStatus   string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Tracked はこの企業が同期の追跡対象かどうかを返す。
func (c *Company) Tracked() bool {
	return c.BeaconMembershipID != ""
}
