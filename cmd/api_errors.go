package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/claims-router/internal/agent"
	"github.com/sells-group/claims-router/internal/approval"
	"github.com/sells-group/claims-router/internal/intake"
	"github.com/sells-group/claims-router/internal/model"
	"github.com/sells-group/claims-router/internal/resilience"
	"github.com/sells-group/claims-router/internal/review"
	"github.com/sells-group/claims-router/internal/routing"
	"github.com/sells-group/claims-router/internal/store"
	"github.com/sells-group/claims-router/internal/verification"
)

// Messages shown to the user for upstream limits.
const (
	msgRateLimited   = "Rate limit exceeded. Please try again in a moment."
	msgQuotaExceeded = "AI credits exhausted. Please add credits to continue."
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}

// writeErr maps a service error onto a status and error code. Anything
// unrecognized is a 500 and is logged with its full chain.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message)
}

func classify(err error) (status int, code, message string) {
	var (
		gate  *approval.GateError
		stage *agent.StageError
	)
	switch {
	case errors.Is(err, agent.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", msgRateLimited
	case errors.Is(err, agent.ErrQuotaExceeded):
		return http.StatusPaymentRequired, "QUOTA_EXCEEDED", msgQuotaExceeded
	case errors.As(err, &gate):
		return http.StatusConflict, "APPROVAL_BLOCKED", gate.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, review.ErrHumanReviewImmutable):
		return http.StatusConflict, "HUMAN_REVIEW_IMMUTABLE", err.Error()
	case errors.Is(err, review.ErrDetectionInUse):
		return http.StatusConflict, "DETECTION_IN_USE", err.Error()
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, intake.ErrNotRoutable):
		return http.StatusConflict, "INVALID_STATE", err.Error()
	case errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, agent.ErrInvalidPhoto),
		errors.Is(err, review.ErrUnknownAction),
		errors.Is(err, routing.ErrUnknownControl),
		errors.Is(err, routing.ErrInvalidControl),
		errors.Is(err, verification.ErrInvalidReasonCode):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error()
	case errors.Is(err, verification.ErrUnknownPart), errors.Is(err, verification.ErrUnknownDetection):
		return http.StatusUnprocessableEntity, "UNKNOWN_TARGET", err.Error()
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI assessment is temporarily unavailable. Please try again shortly."
	case errors.As(err, &stage):
		return http.StatusBadGateway, "AI_STAGE_FAILED", "AI " + string(stage.Stage) + " assessment failed."
	default:
		return http.StatusInternalServerError, "INTERNAL", "internal error"
	}
}
