package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/membersync/internal/sync"
)

// SyncRunnerInterface は同期ハンドラーが必要とするインターフェース。
type SyncRunnerInterface interface {
	// RunOnce は突合を1回実行し、実行結果を返す。
	RunOnce(ctx context.Context) (*sync.Summary, error)
}

// SyncHandler は突合実行のHTTPハンドラー。
// 外部スケジューラ（cron等）からのトリガーを受け付ける。
type SyncHandler struct {
	runner SyncRunnerInterface
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(runner SyncRunnerInterface) *SyncHandler {
	return &SyncHandler{runner: runner}
}

// RunSync は突合の実行を処理する。
// POST /api/sync/run
//
// 実時間上限による部分完了は成功（200）として実行結果を返す。
// ハード失敗（追跡対象の読み込み不可など）のみ500を返す。
func (h *SyncHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.RunOnce(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}
