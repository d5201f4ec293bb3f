package resolver

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/membersync/internal/beacon"
	"github.com/hitoshi/membersync/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- モック定義 ---

// mockBeaconAPI はBeaconAPIインターフェースのモック。
type mockBeaconAPI struct {
	filterFunc   func(ctx context.Context, field, operator, value string) ([]beacon.MembershipResult, error)
	personFunc   func(ctx context.Context, email string) (*beacon.Person, error)
	orgsFunc     func(ctx context.Context, personID string) ([]beacon.Organization, error)
	filterCalls  int32
	personCalls  int32
	orgListCalls int32
}

func (m *mockBeaconAPI) FilterMembershipsByReference(ctx context.Context, field, operator, value string) ([]beacon.MembershipResult, error) {
	atomic.AddInt32(&m.filterCalls, 1)
	if m.filterFunc != nil {
		return m.filterFunc(ctx, field, operator, value)
	}
	return nil, nil
}

func (m *mockBeaconAPI) FindPersonByEmail(ctx context.Context, email string) (*beacon.Person, error) {
	atomic.AddInt32(&m.personCalls, 1)
	if m.personFunc != nil {
		return m.personFunc(ctx, email)
	}
	return nil, nil
}

func (m *mockBeaconAPI) ListOrganizationsByPrimaryContact(ctx context.Context, personID string) ([]beacon.Organization, error) {
	atomic.AddInt32(&m.orgListCalls, 1)
	if m.orgsFunc != nil {
		return m.orgsFunc(ctx, personID)
	}
	return nil, nil
}

// newTestResolver はテスト用のResolverを生成する。
func newTestResolver(t *testing.T, client BeaconAPI) *Resolver {
	t.Helper()
	var buf bytes.Buffer
	r := NewResolver(client, newTestLogger(&buf), nil, DefaultConfig())
	t.Cleanup(r.Close)
	return r
}

// activeMembership は戦略1/2用のActiveメンバーシップ候補を生成するヘルパー。
func activeMembership(id, typ string, refs ...beacon.Reference) beacon.MembershipResult {
	return beacon.MembershipResult{
		Entity: beacon.MembershipEntity{
			ID:     id,
			Status: []string{"Active"},
			Type:   []string{typ},
		},
		References: refs,
	}
}

// --- Resolve のテスト ---

func TestResolve_EmptyEmail(t *testing.T) {
	r := newTestResolver(t, &mockBeaconAPI{})

	_, err := r.Resolve(context.Background(), "   ")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidEmail {
		t.Fatalf("空メールアドレスはINVALID_EMAILを返すべき: %v", err)
	}
}

func TestResolve_NotFound_NeverZeroValuedRecord(t *testing.T) {
	// 全戦略が正常に空を返した場合はBEACON_NOT_FOUND
	client := &mockBeaconAPI{}
	r := newTestResolver(t, client)

	record, err := r.Resolve(context.Background(), "nobody@example.com")
	if record != nil {
		t.Errorf("未発見時はレコードを返してはならない: %+v", record)
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeBeaconNotFound {
		t.Fatalf("BEACON_NOT_FOUNDを返すべき: %v", err)
	}
}

func TestResolve_UpstreamErrorWhenAllStrategiesFail(t *testing.T) {
	client := &mockBeaconAPI{
		filterFunc: func(ctx context.Context, field, operator, value string) ([]beacon.MembershipResult, error) {
			return nil, errors.New("boom")
		},
		personFunc: func(ctx context.Context, email string) (*beacon.Person, error) {
			return nil, errors.New("boom")
		},
	}
	r := newTestResolver(t, client)

	_, err := r.Resolve(context.Background(), "a@x.com")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUpstreamError {
		t.Fatalf("全戦略エラーはUPSTREAM_ERRORを返すべき（NOT_FOUNDと区別する）: %v", err)
	}
}

func TestResolve_SingleStrategyErrorDegradesGracefully(t *testing.T) {
	// 戦略1がエラーでも戦略2が候補を返せば解決は成功する
	client := &mockBeaconAPI{
		filterFunc: func(ctx context.Context, field, operator, value string) ([]beacon.MembershipResult, error) {
			if field == beacon.FieldPrimaryMember {
				return nil, errors.New("timeout")
			}
			return []beacon.MembershipResult{
				activeMembership("bk1", "Individual Standard"),
			}, nil
		},
	}
	r := newTestResolver(t, client)

	record, err := r.Resolve(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("片方の戦略エラーは致命的であってはならない: %v", err)
	}
	if record.MembershipID != "bk1" {
		t.Errorf("MembershipID = %q, want bk1", record.MembershipID)
	}
}

func TestResolve_AdditionalMemberMatch(t *testing.T) {
	// additional_membersのみがActiveな"Business Directory Standard"にマッチするケース
	client := &mockBeaconAPI{
		filterFunc: func(ctx context.Context, field, operator, value string) ([]beacon.MembershipResult, error) {
			if field == beacon.FieldAdditionalMembers {
				if operator != beacon.OperatorContains {
					t.Errorf("additional_membersの演算子 = %q, want contains", operator)
				}
				return []beacon.MembershipResult{
					activeMembership("bk9", "Business Directory Standard"),
				}, nil
			}
			return nil, nil
		},
	}
	r := newTestResolver(t, client)

	record, err := r.Resolve(context.Background(), "b@y.com")
	if err != nil {
		t.Fatalf("Resolve がエラーを返した: %v", err)
	}
	if !record.HasCurrentMembership {
		t.Error("HasCurrentMembership = false, want true")
	}
	if len(record.AllMembershipTypes) != 1 || record.AllMembershipTypes[0] != "Business Directory Standard" {
		t.Errorf("AllMembershipTypes = %v, want [Business Directory Standard]", record.AllMembershipTypes)
	}
}

func TestResolve_AllInactiveCandidates(t *testing.T) {
	client := &mockBeaconAPI{
		filterFunc: func(ctx context.Context, field, operator, value string) ([]beacon.MembershipResult, error) {
			if field != beacon.FieldPrimaryMember {
				return nil, nil
			}
			return []beacon.MembershipResult{
				{Entity: beacon.MembershipEntity{ID: "bk1", Status: []string{"Lapsed"}, Type: []string{"Individual Standard"}}},
				{Entity: beacon.MembershipEntity{ID: "bk2", Status: []string{"Cancelled"}, Type: []string{"Individual Plus"}}},
			}, nil
		},
	}
	r := newTestResolver(t, client)

	record, err := r.Resolve(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("非Activeでもマッチがあれば成功として返すべき: %v", err)
	}
	if record.HasCurrentMembership {
		t.Error("全候補が非ActiveならHasCurrentMembership = false")
	}
	if len(record.AllMembershipTypes) != 2 {
		t.Errorf("AllMembershipTypes = %v, want 2件", record.AllMembershipTypes)
	}
}

func TestResolve_Strategy3ShortCircuit(t *testing.T) {
	// 戦略1が候補を返した場合、戦略3（個人検索）は実行されない
	client := &mockBeaconAPI{
		filterFunc: func(ctx context.Context, field, operator, value string) ([]beacon.MembershipResult, error) {
			if field == beacon.FieldPrimaryMember {
				return []beacon.MembershipResult{activeMembership("bk1", "Individual Standard")}, nil
			}
			return nil, nil
		},
	}
	r := newTestResolver(t, client)

	if _, err := r.Resolve(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("Resolve がエラーを返した: %v", err)
	}

	if got := atomic.LoadInt32(&client.personCalls); got != 0 {
		t.Errorf("戦略1/2が候補を返した場合は個人検索を実行してはならない: personCalls = %d", got)
	}
	if got := atomic.LoadInt32(&client.orgListCalls); got != 0 {
		t.Errorf("組織検索も実行してはならない: orgListCalls = %d", got)
	}
}

func TestResolve_Strategy3_OrgPrimaryContact(t *testing.T) {
	// 戦略1・2が空の場合のみ、個人→主担当組織→メンバーシップと辿る。
	// Activeかつ企業ディレクトリマーカーを含むもののみを残す。
	client := &mockBeaconAPI{
		filterFunc: func(ctx context.Context, field, operator, value string) ([]beacon.MembershipResult, error) {
			if value == "org-1" {
				return []beacon.MembershipResult{
					activeMembership("bk-biz", "Business Directory Standard",
						beacon.Reference{ID: "org-1", EntityType: "organization", Name: "テスト商会"},
					),
					// Activeだがマーカーを含まないタイプは除外される
					activeMembership("bk-ind", "Individual Standard"),
					// マーカーを含むが非Activeのものも除外される
					{Entity: beacon.MembershipEntity{ID: "bk-old", Status: []string{"Lapsed"}, Type: []string{"Business Directory Standard"}}},
				}, nil
			}
			return nil, nil
		},
		personFunc: func(ctx context.Context, email string) (*beacon.Person, error) {
			return &beacon.Person{ID: "p1", FirstName: "太郎", LastName: "佐藤", Emails: []string{"taro@example.com"}}, nil
		},
		orgsFunc: func(ctx context.Context, personID string) ([]beacon.Organization, error) {
			if personID != "p1" {
				t.Errorf("personID = %q, want p1", personID)
			}
			return []beacon.Organization{{ID: "org-1", Name: "テスト商会"}}, nil
		},
	}
	r := newTestResolver(t, client)

	record, err := r.Resolve(context.Background(), "taro@example.com")
	if err != nil {
		t.Fatalf("Resolve がエラーを返した: %v", err)
	}
	if record.MembershipID != "bk-biz" {
		t.Errorf("MembershipID = %q, want bk-biz", record.MembershipID)
	}
	if len(record.AllMembershipTypes) != 1 {
		t.Errorf("マーカー/Activeフィルタ後のタイプ = %v, want 1件", record.AllMembershipTypes)
	}
	if len(record.Organizations) != 1 || record.Organizations[0].ID != "org-1" {
		t.Errorf("Organizations = %+v", record.Organizations)
	}
}

func TestResolve_CacheHitSkipsUpstream(t *testing.T) {
	client := &mockBeaconAPI{
		filterFunc: func(ctx context.Context, field, operator, value string) ([]beacon.MembershipResult, error) {
			if field == beacon.FieldPrimaryMember {
				return []beacon.MembershipResult{activeMembership("bk1", "Individual Standard")}, nil
			}
			return nil, nil
		},
	}
	r := newTestResolver(t, client)

	if _, err := r.Resolve(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("1回目のResolve がエラーを返した: %v", err)
	}
	callsAfterFirst := atomic.LoadInt32(&client.filterCalls)

	// 大文字小文字・空白の違いは正規化され同一キーになる
	record, err := r.Resolve(context.Background(), "  A@X.COM ")
	if err != nil {
		t.Fatalf("2回目のResolve がエラーを返した: %v", err)
	}
	if record.MembershipID != "bk1" {
		t.Errorf("キャッシュからのMembershipID = %q, want bk1", record.MembershipID)
	}

	if got := atomic.LoadInt32(&client.filterCalls); got != callsAfterFirst {
		t.Errorf("キャッシュヒット時は上流を呼んではならない: filterCalls %d -> %d", callsAfterFirst, got)
	}
}

func TestResolve_CacheExpiry(t *testing.T) {
	client := &mockBeaconAPI{
		filterFunc: func(ctx context.Context, field, operator, value string) ([]beacon.MembershipResult, error) {
			if field == beacon.FieldPrimaryMember {
				return []beacon.MembershipResult{activeMembership("bk1", "Individual Standard")}, nil
			}
			return nil, nil
		},
	}
	var buf bytes.Buffer
	r := NewResolver(client, newTestLogger(&buf), nil, Config{
		CacheTTL:                10 * time.Millisecond,
		BusinessDirectoryMarker: "Business Directory",
	})
	t.Cleanup(r.Close)

	if _, err := r.Resolve(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("1回目のResolve がエラーを返した: %v", err)
	}
	callsAfterFirst := atomic.LoadInt32(&client.filterCalls)

	time.Sleep(20 * time.Millisecond)

	if _, err := r.Resolve(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("2回目のResolve がエラーを返した: %v", err)
	}
	if got := atomic.LoadInt32(&client.filterCalls); got == callsAfterFirst {
		t.Error("TTL経過後は上流を再度呼ぶべき")
	}
}

// --- mergeCandidates のテスト ---

func TestMergeCandidates_OrganizationDedup(t *testing.T) {
	candidates := []beacon.MembershipResult{
		activeMembership("bk1", "Business Directory Standard",
			beacon.Reference{ID: "org-1", EntityType: "organization", Name: "テスト商会"},
		),
		activeMembership("bk2", "Business Directory Plus",
			beacon.Reference{ID: "org-1", EntityType: "organization", Name: "テスト商会"},
			beacon.Reference{ID: "org-2", EntityType: "organization", Name: "サンプル工業"},
		),
	}

	record := mergeCandidates("a@x.com", candidates)

	if len(record.Organizations) != 2 {
		t.Fatalf("Organizations = %+v, want ID重複排除で2件", record.Organizations)
	}
	if record.Organizations[0].ID != "org-1" || record.Organizations[1].ID != "org-2" {
		t.Errorf("発見順が保持されるべき: %+v", record.Organizations)
	}
}

func TestMergeCandidates_TypeDuplicatesPreserved(t *testing.T) {
	candidates := []beacon.MembershipResult{
		activeMembership("bk1", "Individual Standard"),
		activeMembership("bk2", "Individual Standard"),
	}

	record := mergeCandidates("a@x.com", candidates)

	if len(record.AllMembershipTypes) != 2 {
		t.Errorf("タイプの重複は保持されるべき: %v", record.AllMembershipTypes)
	}
}

func TestMergeCandidates_PersonSelection_ExactEmailPreferred(t *testing.T) {
	candidates := []beacon.MembershipResult{
		activeMembership("bk1", "Individual Standard",
			beacon.Reference{ID: "p-other", EntityType: "person", FirstName: "一郎", LastName: "田中", Emails: []string{"other@example.com"}},
			beacon.Reference{ID: "p-match", EntityType: "person", FirstName: "花子", LastName: "山田", Emails: []string{"A@X.COM"}},
		),
	}

	record := mergeCandidates("a@x.com", candidates)

	if record.PersonID != "p-match" {
		t.Errorf("PersonID = %q, want p-match（先頭メールの大文字小文字無視一致を優先）", record.PersonID)
	}
	if record.FirstName != "花子" {
		t.Errorf("FirstName = %q, want 花子", record.FirstName)
	}
}

func TestMergeCandidates_SecondaryEmailDoesNotSelectPerson(t *testing.T) {
	// 参照エンティティの2番目以降のメールアドレスは
	// 完全一致の比較対象にならない。一致なし扱いで先頭の個人参照にフォールバックする。
	candidates := []beacon.MembershipResult{
		activeMembership("bk1", "Individual Standard",
			beacon.Reference{ID: "p-first", EntityType: "person", FirstName: "一郎", LastName: "田中", Emails: []string{"primary@example.com", "a@x.com"}},
		),
	}

	record := mergeCandidates("a@x.com", candidates)

	if record.PersonID != "p-first" {
		t.Errorf("PersonID = %q（フォールバックで先頭の個人参照）", record.PersonID)
	}
}

func TestMergeCandidates_PureOrganizationMatch(t *testing.T) {
	candidates := []beacon.MembershipResult{
		activeMembership("bk1", "Business Directory Standard",
			beacon.Reference{ID: "org-1", EntityType: "organization", Name: "テスト商会"},
		),
	}

	record := mergeCandidates("info@example.com", candidates)

	if record.PersonID != "" {
		t.Errorf("純組織マッチではPersonIDは空であるべき: %q", record.PersonID)
	}
	if record.MembershipID == "" {
		t.Error("解決済みレコードのMembershipIDは空であってはならない")
	}
}

func TestMergeCandidates_JoinedDateFromPrimaryMatch(t *testing.T) {
	candidates := []beacon.MembershipResult{
		{Entity: beacon.MembershipEntity{ID: "bk1", Status: []string{"Active"}, Type: []string{"Individual Standard"}, StartDate: "2023-04-01"}},
		{Entity: beacon.MembershipEntity{ID: "bk2", Status: []string{"Active"}, Type: []string{"Individual Plus"}, StartDate: "2024-01-15"}},
	}

	record := mergeCandidates("a@x.com", candidates)

	if record.JoinedDate != "2023-04-01" {
		t.Errorf("JoinedDate = %q, want 先頭候補の開始日", record.JoinedDate)
	}
	if record.MembershipID != "bk1" {
		t.Errorf("MembershipID = %q, want bk1", record.MembershipID)
	}
}
