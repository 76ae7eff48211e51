package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/portal/internal/middleware"
	"github.com/hitoshi/portal/internal/model"
	"github.com/hitoshi/portal/internal/notify"
	"github.com/hitoshi/portal/internal/profile"
)

// プロフィールフォームの通知は短めに表示する。
const profileNoticeDuration = time.Second

const (
	msgProfileSaved  = "User data saved successfully"
	msgProfileFailed = "Error in saving the form"
)

// ProfileService はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileService interface {
	Get(ctx context.Context) (*model.Profile, error)
	Save(ctx context.Context, in profile.Input) (*model.Profile, error)
}

// ProfileHandler はプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	service  ProfileService
	notifier Notifier
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileService, notifier Notifier) *ProfileHandler {
	return &ProfileHandler{service: service, notifier: notifier}
}

// Get は保存済みのプロフィールを返す。未保存の場合はprofileがnull。
// GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context())
	if err != nil {
		slog.Error("failed to load profile", slog.String("error", err.Error()))
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": p})
}

// Update はプロフィールを検証して保存する。
// PUT /api/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in profile.Input
	if err := decodeJSON(w, r, &in); err != nil {
		in = profile.Input{}
	}

	if fields := validateProfile(in); fields != nil {
		h.notifier.Push(r.Context(), notify.SeverityError, msgProfileFailed, profileNoticeDuration)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(fields))
		return
	}

	p, err := h.service.Save(r.Context(), in)
	if err != nil {
		h.notifier.Push(r.Context(), notify.SeverityError, msgProfileFailed, profileNoticeDuration)
		if !errors.Is(err, model.ErrStorageUnavailable) {
			slog.Error("failed to save profile", slog.String("error", err.Error()))
		}
		middleware.WriteError(w, err)
		return
	}

	h.notifier.Push(r.Context(), notify.SeveritySuccess, msgProfileSaved, profileNoticeDuration)
	writeJSON(w, http.StatusOK, map[string]any{"profile": p})
}
