package handler

import (
	"net/http"

	"github.com/straye-as/merchant-ledger/internal/auth"
	"go.uber.org/zap"
)

// MeResponse describes the authenticated caller
type MeResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Role        auth.Role `json:"role"`
	System      bool      `json:"system"`
	IsOwner     bool      `json:"isOwner"`
}

type AuthHandler struct {
	logger *zap.Logger
}

func NewAuthHandler(logger *zap.Logger) *AuthHandler {
	return &AuthHandler{logger: logger}
}

// Me godoc
// @Summary Get current user
// @Description Returns the authenticated merchant user and their role
// @Tags Auth
// @Produce json
// @Success 200 {object} MeResponse
// @Failure 401 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	respondJSON(w, http.StatusOK, MeResponse{
		ID:          actor.ID,
		DisplayName: actor.DisplayName,
		Role:        actor.Role,
		System:      actor.System,
		IsOwner:     actor.IsOwner(),
	})
}
