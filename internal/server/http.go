package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"toolchat/internal/app"
	"toolchat/internal/llm"
	"toolchat/internal/logger"
	"toolchat/internal/session"
	"toolchat/internal/settings"
)

type HTTPServer struct {
	session *app.Session
	log     *zap.Logger
}

func New(s *app.Session, log *zap.Logger) *HTTPServer {
	return &HTTPServer{session: s, log: logger.OrNop(log)}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/tools", s.handleTools)
	r.Post("/turns", s.handleTurn)
	r.Route("/conversation", func(r chi.Router) {
		r.Get("/", s.getConversation)
		r.Delete("/", s.clearConversation)
	})
	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", s.listConversations)
		r.Post("/{name}", s.saveConversation)
		r.Put("/{name}", s.loadConversation)
	})
	r.Get("/history", s.handleHistory)
	r.Route("/settings", func(r chi.Router) {
		r.Get("/", s.getSettings)
		r.Patch("/", s.patchSettings)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *HTTPServer) handleTools(w http.ResponseWriter, _ *http.Request) {
	type toolView struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Mutating    bool            `json:"mutating"`
		Schema      json.RawMessage `json:"input_schema"`
	}
	caps := s.session.Tools()
	out := make([]toolView, 0, len(caps))
	for _, c := range caps {
		out = append(out, toolView{Name: c.Name(), Description: c.Description(), Mutating: c.Mutating(), Schema: c.Schema()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *HTTPServer) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input string `json:"input"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.session.Send(r.Context(), req.Input)
	if err != nil {
		writeErr(w, turnStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) getConversation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"turns": s.session.Turns()})
}

func (s *HTTPServer) clearConversation(w http.ResponseWriter, _ *http.Request) {
	s.session.ClearConversation()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) listConversations(w http.ResponseWriter, _ *http.Request) {
	items, err := s.session.ListConversations()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []session.SnapshotInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

func (s *HTTPServer) saveConversation(w http.ResponseWriter, r *http.Request) {
	file, err := s.session.SaveConversation(chi.URLParam(r, "name"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": file})
}

func (s *HTTPServer) loadConversation(w http.ResponseWriter, r *http.Request) {
	res, err := s.session.LoadConversation(chi.URLParam(r, "name"))
	if errors.Is(err, session.ErrSnapshotNotFound) {
		writeErr(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	items, err := s.session.History(r.Context(), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []session.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": items})
}

func (s *HTTPServer) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Settings().Map())
}

// patchSettings applies each key in turn; the first invalid value stops the
// update and earlier keys stay applied.
func (s *HTTPServer) patchSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	keys := make([]string, 0, len(req))
	for _, k := range settings.Keys() {
		for raw := range req {
			if settings.CanonicalKey(raw) == k {
				keys = append(keys, raw)
			}
		}
	}
	if len(keys) != len(req) {
		writeErr(w, http.StatusBadRequest, settings.ErrUnknownKey.Error())
		return
	}
	for _, k := range keys {
		if _, err := s.session.Configure(k, formatValue(req[k])); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, s.session.Settings().Map())
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		raw, _ := json.Marshal(x)
		return string(raw)
	}
}

func turnStatus(err error) int {
	var statusErr *llm.StatusError
	switch {
	case errors.Is(err, app.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &statusErr), errors.Is(err, llm.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	var extra struct{}
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return errors.New("request must contain one JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
