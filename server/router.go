package main

import (
	"encoding/json"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"collabtext/internal/hub"
	"collabtext/internal/session"
)

type health struct {
	Participants  int `json:"participants"`
	DocumentBytes int `json:"documentBytes"`
}

func newRouter(h *hub.Hub, store *session.Store, gatherer prometheus.Gatherer, staticDir string, log *zap.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, req)
			log.Debug("handled", zap.String("method", req.Method), zap.String("url", req.URL.String()), zap.Duration("duration", m.Duration), zap.Int("status", m.Code))
		})
	})

	r.HandleFunc("/ws", h.ServeWS)
	// Browser clients open the socket on the page's own origin and path.
	r.Path("/").MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
		return websocket.IsWebSocketUpgrade(req)
	}).HandlerFunc(h.ServeWS)

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health{
			Participants:  store.Len(),
			DocumentBytes: len(store.Snapshot()),
		})
	})
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}
