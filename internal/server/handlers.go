package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rezaab69/rathole-management/internal/catalog"
	"github.com/rezaab69/rathole-management/internal/supervisor"
)

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	var verr *catalog.ValidationError
	var perr *catalog.PersistenceError
	var serr *supervisor.SpawnError
	var terr *supervisor.TerminationError
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, catalog.ErrAlreadyExists):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	case errors.Is(err, catalog.ErrNoOpUpdate), errors.As(err, &verr),
		errors.Is(err, supervisor.ErrServerSideStop):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
	case errors.As(err, &perr), errors.As(err, &serr), errors.As(err, &terr):
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func (r *Router) handleAdd(c *gin.Context) {
	var def catalog.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	added, err := r.mgr.AddService(c.Request.Context(), def)
	if err != nil {
		writeError(c, err)
		return
	}
	// The response carries the stored definition so callers see the
	// generated token.
	writeJSON(c, http.StatusOK, added)
}

func (r *Router) handleUpdate(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	var fields catalog.UpdateFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	updated, err := r.mgr.UpdateService(c.Request.Context(), name, fields)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, updated)
}

func (r *Router) handleRemove(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if err := r.mgr.RemoveService(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if err := r.mgr.StartService(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if err := r.mgr.StopService(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, r.mgr.ListServices())
		return
	}
	st, err := r.mgr.ServiceStatus(name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleServerStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.SharedServerStatus())
}

func (r *Router) handleServerStart(c *gin.Context) {
	if err := r.mgr.StartSharedServer(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleServerRestart(c *gin.Context) {
	if err := r.mgr.RestartSharedServer(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleServerStop(c *gin.Context) {
	if err := r.mgr.StopSharedServer(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
