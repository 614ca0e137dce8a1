package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rezaab69/rathole-management/internal/auth"
)

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type passwordReq struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
}

func (r *Router) handleLogin(c *gin.Context) {
	if r.auth == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "authentication is not configured"})
		return
	}
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	token, err := r.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid credentials"})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, token)
}

// handlePassword changes a password. Users change their own; changing
// another account requires the admin role. With auth disabled the
// username must be explicit.
func (r *Router) handlePassword(c *gin.Context) {
	if r.auth == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "authentication is not configured"})
		return
	}
	var req passwordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Password == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "password required"})
		return
	}
	username := req.Username
	if claims := auth.ClaimsFrom(c); claims != nil {
		if username == "" {
			username = claims.Username
		}
		if username != claims.Username && claims.Role != auth.RoleAdmin {
			writeJSON(c, http.StatusForbidden, errorResp{Error: "admin role required to change another user's password"})
			return
		}
	}
	if username == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "username required"})
		return
	}
	if err := r.auth.UpdatePassword(c.Request.Context(), username, req.Password); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
