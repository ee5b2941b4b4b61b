package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"custodytrail/internal/app"
	"custodytrail/internal/transport/http/response"
)

type ProfileHandler struct {
	profiles *app.ProfileService
	quota    *app.QuotaService
}

type SaveProfileRequest struct {
	Jurisdiction string `json:"jurisdiction" binding:"max=128"`
	Role         string `json:"role" binding:"max=64"`
	Goals        string `json:"goals" binding:"max=2000"`
	ChildNames   string `json:"child_names" binding:"max=255"`
	Timezone     string `json:"timezone" binding:"max=64"`
}

func NewProfileHandler(profiles *app.ProfileService, quota *app.QuotaService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, quota: quota}
}

func (h *ProfileHandler) Get(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	profile, err := h.profiles.Get(c.Request.Context(), userID)
	if err != nil {
		writeServiceError(c, "get profile", err)
		return
	}
	response.OK(c, profile)
}

func (h *ProfileHandler) Save(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req SaveProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	profile, err := h.profiles.Save(c.Request.Context(), app.SaveProfileInput{
		UserID:       userID,
		Jurisdiction: req.Jurisdiction,
		Role:         req.Role,
		Goals:        req.Goals,
		ChildNames:   req.ChildNames,
		Timezone:     req.Timezone,
	})
	if err != nil {
		writeServiceError(c, "save profile", err)
		return
	}
	response.OK(c, profile)
}

func (h *ProfileHandler) Quota(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	status, err := h.quota.Status(c.Request.Context(), userID)
	if err != nil {
		writeServiceError(c, "quota status", err)
		return
	}
	response.OK(c, status)
}
