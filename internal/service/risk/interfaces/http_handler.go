package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"riskgate/internal/pkg/logger"
	"riskgate/internal/service/risk/application"
	"riskgate/internal/service/risk/domain"
	"riskgate/internal/service/risk/domain/port"
)

// RiskHandler 封装了 risk 服务的 HTTP 处理器
type RiskHandler struct {
	service *application.RiskApplicationService
}

func NewRiskHandler(service *application.RiskApplicationService) *RiskHandler {
	return &RiskHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *RiskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /check", h.handleCheck)
	mux.HandleFunc("POST /orders/placed", h.handleOrderPlaced)
	mux.HandleFunc("POST /orders/cancelled", h.handleOrderCancelled)
	mux.HandleFunc("PUT /profiles/blacklist", h.handleBlacklist)
	mux.HandleFunc("GET /profiles", h.handleGetProfile)
	mux.HandleFunc("GET /assessments", h.handleListAssessments)
}

func (h *RiskHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := h.service.CheckOrderAttempt(ctx, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, resp)
}

func (h *RiskHandler) handleOrderPlaced(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.OrderPlacedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	profile, err := h.service.RecordOrderPlaced(ctx, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, profile)
}

func (h *RiskHandler) handleOrderCancelled(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.OrderCancelledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	profile, err := h.service.RecordOrderCancelled(ctx, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, profile)
}

func (h *RiskHandler) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.BlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	profile, err := h.service.SetBlacklist(ctx, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, profile)
}

func (h *RiskHandler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	profile, err := h.service.GetProfile(ctx, r.URL.Query().Get("email"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, profile)
}

func (h *RiskHandler) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := h.service.ListAssessments(ctx, r.URL.Query().Get("email"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}

// statusFor 根据错误类别返回 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, port.ErrLockTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrDependency):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg("Request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
