// Package server exposes the emotion signal to a presentation layer over
// HTTP and a websocket stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/maastricht-university/edmo-mood/emotion"
	"github.com/maastricht-university/edmo-mood/orchestrator"
	"github.com/sirupsen/logrus"
)

// Signal is the read side of the Poller.
type Signal interface {
	Current() (emotion.Prediction, bool)
	History() []emotion.Prediction
	ModelReady() bool
	Stats() orchestrator.PollerStats
	Subscribe() (<-chan emotion.Prediction, func())
}

// ModelInfo describes the primary model for clients.
type ModelInfo struct {
	Ready  bool   `json:"ready"`
	Mode   string `json:"mode"`
	State  string `json:"state,omitempty"`
	Active string `json:"active,omitempty"`
}

// Route binds an HTTP method and pattern to a handler.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}

type Handler struct {
	signal   Signal
	info     func() ModelInfo
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

// NewHandler builds the API. info may be nil.
func NewHandler(s Signal, info func() ModelInfo, log logrus.FieldLogger) *Handler {
	if info == nil {
		info = func() ModelInfo { return ModelInfo{Ready: s.ModelReady()} }
	}
	return &Handler{
		signal: s,
		info:   info,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) Routes() []Route {
	return []Route{
		{Method: "GET", Pattern: "/api/emotion/current", Handler: h.current},
		{Method: "GET", Pattern: "/api/emotion/history", Handler: h.history},
		{Method: "GET", Pattern: "/api/emotion/summary", Handler: h.summary},
		{Method: "GET", Pattern: "/api/emotion/stream", Handler: h.stream},
		{Method: "GET", Pattern: "/api/model", Handler: h.model},
		{Method: "GET", Pattern: "/api/stats", Handler: h.stats},
	}
}

// Mux registers every route on a new ServeMux.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	for _, r := range h.Routes() {
		mux.HandleFunc(r.Method+" "+r.Pattern, r.Handler)
	}
	return mux
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Debug("write response")
	}
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	p, ok := h.signal.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// history accepts ?since=<unix ms> to trim older entries.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	preds := h.signal.History()
	if s := r.URL.Query().Get("since"); s != "" {
		ts, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be unix milliseconds"})
			return
		}
		preds = orchestrator.Since(preds, ts)
	}
	h.writeJSON(w, http.StatusOK, preds)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, orchestrator.Summarize(h.signal.History()))
}

func (h *Handler) model(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.info())
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.signal.Stats())
}

const writeWait = 5 * time.Second

// stream pushes every new prediction as a JSON text message, starting with
// the current one.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := h.signal.Subscribe()
	defer cancel()

	// drain client frames so close messages are noticed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(p emotion.Prediction) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(p)
	}
	if p, ok := h.signal.Current(); ok {
		if err := send(p); err != nil {
			return
		}
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case p, ok := <-updates:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := send(p); err != nil {
				h.log.WithError(err).Debug("websocket client gone")
				return
			}
		}
	}
}

// Serve runs an HTTP server until ctx ends.
func Serve(ctx context.Context, addr string, h http.Handler, log logrus.FieldLogger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
