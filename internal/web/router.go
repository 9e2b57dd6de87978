// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package web

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/varbooth/varbooth/internal/logging"
)

// RouterConfig configures the HTTP surface around the websocket hub.
type RouterConfig struct {
	AdminUsername string
	AdminPassword string
	CORSOrigins   []string
	StaticDir     string
}

// Router serves the websocket endpoint, the admin API and static panel
// assets.
type Router struct {
	hub      *Hub
	cfg      RouterConfig
	upgrader websocket.Upgrader

	adminUser []byte
	adminHash []byte
}

// NewRouter builds the router. The admin password is hashed once up
// front so request handling only ever touches the hash.
func NewRouter(hub *Hub, cfg RouterConfig) (*Router, error) {
	r := &Router{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Panels connect from other hosts on the field network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if cfg.AdminUsername != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		r.adminUser = []byte(cfg.AdminUsername)
		r.adminHash = hash
	}
	return r, nil
}

// Handler assembles the route tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", rt.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(120, time.Minute))
		r.Get("/websocket", rt.handleWebsocket)
		r.With(rt.requireAdmin).Get("/status", rt.handleStatus)
		r.With(rt.requireAdmin).Post("/reload_clients", rt.handleReloadClients)
	})

	if rt.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(rt.cfg.StaticDir)))
	}
	return r
}

// handleWebsocket upgrades the connection and hands the client to the
// hub. The client starts with no subscriptions; panels subscribe to the
// event types they render.
func (rt *Router) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := newClient(rt.hub, conn)
	rt.hub.register <- client
	go client.writePump()
	go client.readPump()
}

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := rt.hub.snapshot([]string{
		"controller_status",
		"arena_connection",
		"hyperdeck_connection",
	})
	status["websocket_clients"] = rt.hub.ClientCount()
	rt.writeJSON(w, http.StatusOK, status)
}

func (rt *Router) handleReloadClients(w http.ResponseWriter, r *http.Request) {
	rt.hub.ReloadClients()
	rt.writeJSON(w, http.StatusOK, map[string]string{"status": "reload requested"})
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	rt.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAdmin enforces HTTP basic auth against the configured admin
// credentials. With no admin user configured the endpoints are open,
// which suits a standalone booth on an isolated field network.
func (rt *Router) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(rt.adminUser) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			rt.denyAuth(w)
			return
		}
		userMatch := subtle.ConstantTimeCompare([]byte(user), rt.adminUser) == 1
		passErr := bcrypt.CompareHashAndPassword(rt.adminHash, []byte(pass))
		if !userMatch || passErr != nil {
			logging.Warn().Str("remote", r.RemoteAddr).Msg("rejected admin credentials")
			rt.denyAuth(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) denyAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="varbooth"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func (rt *Router) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn().Err(err).Msg("failed to encode response")
	}
}
