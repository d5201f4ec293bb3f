package handler

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthChecker はヘルスチェックが必要とするDB接続のインターフェース。
// *sql.DBがそのまま満たす。
type HealthChecker interface {
	Ping() error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db HealthChecker) *HealthHandler {
	return &HealthHandler{db: db}
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// Health はヘルスチェックを処理する。
// GET /health
// DB接続が確認できれば200、できなければ503を返す。
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	statusCode := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(healthResponse{
		Status: status,
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
