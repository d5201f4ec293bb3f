package model

// MembershipStatusActive はBeacon CRM上で有効なメンバーシップを示すステータス値。
const MembershipStatusActive = "Active"

// OrganizationRef はメンバーシップに紐づく組織エンティティへの参照。
type OrganizationRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MembershipRecord はメールアドレス解決の結果を表す。
// 複数の検索戦略でマッチした全メンバーシップエンティティをマージした結果であり、
// MembershipIDは解決済みであれば必ず空でない。
type MembershipRecord struct {
	// MembershipID はマッチの根拠となったメンバーシップエンティティのID。
	MembershipID string `json:"membership_id"`
	// PersonID はマッチした個人エンティティのID。組織経由のマッチでは空になりうる。
	PersonID string `json:"person_id,omitempty"`
	// FirstName / LastName はマッチした個人の表示名。
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	// HasCurrentMembership はマッチしたエンティティのいずれかがActiveのときtrue。
	HasCurrentMembership bool `json:"has_current_membership"`
	// AllMembershipTypes はマッチした全エンティティのタイプを発見順に保持する。
	// 重複は保持する（下流のティア判定は部分一致で行うため）。
	AllMembershipTypes []string `json:"all_membership_types"`
	// Organizations はマッチした全エンティティが参照する組織のID重複排除済み集合。
	Organizations []OrganizationRef `json:"organizations"`
	// JoinedDate は主たるマッチの開始日（存在する場合のみ）。
	JoinedDate string `json:"joined_date,omitempty"`
}
