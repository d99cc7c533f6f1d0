package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/af-corp/pplx-bridge/internal/httputil"
	"github.com/af-corp/pplx-bridge/internal/project"
)

// ProjectFile handles GET /project/file?path=...
func (h *Handler) ProjectFile(w http.ResponseWriter, r *http.Request) {
	reqID := httputil.RequestIDFrom(r.Context())
	if h.files == nil {
		httputil.WriteNotFoundError(w, reqID, "Project files are disabled")
		return
	}

	path := r.URL.Query().Get("path")
	f, err := h.files.Read(path)
	switch {
	case err == nil:
		h.logger.Debug("project file read",
			"request_id", reqID,
			"client", clientOf(r),
			"size", f.Size,
			"truncated", f.Truncated,
		)
		httputil.WriteJSON(w, http.StatusOK, f)
	case errors.Is(err, project.ErrInvalidPath):
		httputil.WriteBadRequestError(w, reqID, capitalize(err.Error()))
	case errors.Is(err, project.ErrNotFound):
		httputil.WriteNotFoundError(w, reqID, "File not found")
	default:
		h.logger.Error("read project file", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Internal server error")
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
