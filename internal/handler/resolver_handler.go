package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/membersync/internal/model"
)

// MembershipResolverInterface はリゾルバーハンドラーが必要とするインターフェース。
type MembershipResolverInterface interface {
	// Resolve はメールアドレスからメンバーシップを解決する。
	Resolve(ctx context.Context, email string) (*model.MembershipRecord, error)
}

// ResolverHandler はメンバーシップ解決のHTTPハンドラー。
type ResolverHandler struct {
	resolver MembershipResolverInterface
}

// NewResolverHandler はResolverHandlerを生成する。
func NewResolverHandler(resolver MembershipResolverInterface) *ResolverHandler {
	return &ResolverHandler{resolver: resolver}
}

// resolveResponse は解決結果のAPIレスポンス。
type resolveResponse struct {
	Membership *model.MembershipRecord `json:"membership"`
}

// noActiveMembershipResponse は有効なメンバーシップがない場合のレスポンス。
// アクセス拒否の理由表示のため、解決済みレコードをエラーと併せて返す。
type noActiveMembershipResponse struct {
	apiErrorResponse
	Membership *model.MembershipRecord `json:"membership"`
}

// ResolveMembership はメールアドレスからのメンバーシップ解決を処理する。
// GET /api/membership/resolve?email=
//
// レスポンス:
//   - 200: 有効なメンバーシップあり（解決済みレコード）
//   - 400: メールアドレス未指定
//   - 403: メンバーシップはあるが有効なものがない（レコード付き）
//   - 404: 全戦略でメンバーシップが見つからない
//   - 502: 上流（Beacon CRM）障害により判定不能
func (h *ResolverHandler) ResolveMembership(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")

	record, err := h.resolver.Resolve(r.Context(), email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if !record.HasCurrentMembership {
		// 「見つからない」と「見つかったが無効」は区別して返す
		apiErr := model.NewNoActiveMembershipError()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(noActiveMembershipResponse{
			apiErrorResponse: apiErrorResponse{
				Code:     apiErr.Code,
				Message:  apiErr.Message,
				Category: apiErr.Category,
				Action:   apiErr.Action,
			},
			Membership: record,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resolveResponse{Membership: record})
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidEmail:
		return http.StatusBadRequest
	case model.ErrCodeBeaconNotFound:
		return http.StatusNotFound
	case model.ErrCodeNoActiveMembership:
		return http.StatusForbidden
	case model.ErrCodeUpstreamError:
		return http.StatusBadGateway
	case model.ErrCodeSyncFailed, model.ErrCodeConfigError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
