package lookup

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HTTPHandler exposes Handler.Lookup as GET ?author=&name=&version=.
type HTTPHandler struct {
	lookup *Handler
	logger *slog.Logger
}

// NewHTTPHandler wraps h. A nil logger uses slog.Default.
func NewHTTPHandler(h *Handler, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{lookup: h, logger: logger}
}

// Register mounts the handler on the module routes, wrapped by middleware
// in the order given (the first is outermost).
func (h *HTTPHandler) Register(mux *http.ServeMux, middleware ...func(http.Handler) http.Handler) {
	var handler http.Handler = h
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	mux.Handle("GET /module", handler)
	mux.Handle("GET /api/module", handler)
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := Query{
		Author:  params.Get("author"),
		Name:    params.Get("name"),
		Version: params.Get("version"),
	}

	resp, err := h.lookup.Lookup(r.Context(), q)
	if err != nil {
		h.logger.Error("Lookup failed", "author", q.Author, "name", q.Name, "version", q.Version, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "storage failure"})
		return
	}

	if resp.Body == nil {
		w.WriteHeader(resp.StatusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		h.logger.Debug("Writing response failed", "error", err)
	}
}
