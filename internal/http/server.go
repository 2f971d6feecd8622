// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lighting-engine/internal/api"
	"lighting-engine/internal/lights"
	"lighting-engine/internal/scheduler"
	"lighting-engine/internal/theme"
)

var startTime = time.Now()

// maxBody limits request bodies (themes are small JSON documents)
const maxBody = 1 << 20

// HealthResponse for /api/health endpoint
type HealthResponse struct {
	UptimeSec  int     `json:"uptime_sec"`
	UptimeStr  string  `json:"uptime_str"`
	Goroutines int     `json:"goroutines"`
	CPULoad1m  float64 `json:"cpu_load_1m"`
	CPULoad5m  float64 `json:"cpu_load_5m"`
	CPULoad15m float64 `json:"cpu_load_15m"`
	MemAllocMB float64 `json:"mem_alloc_mb"`
	MemSysMB   float64 `json:"mem_sys_mb"`
	MemHeapMB  float64 `json:"mem_heap_mb"`
	GCRuns     uint32  `json:"gc_runs"`
	GoVersion  string  `json:"go_version"`
	NumCPU     int     `json:"num_cpu"`
}

// Server is the HTTP/WebSocket server
type Server struct {
	addr       string
	dispatcher *lights.Dispatcher
	api        *api.Handler
	scheduler  *scheduler.Scheduler
	logger     *slog.Logger
	server     *http.Server
	upgrader   websocket.Upgrader
}

// NewServer creates a new HTTP server
func NewServer(addr string, dispatcher *lights.Dispatcher, handler *api.Handler, logger *slog.Logger) *Server {
	s := &Server{
		addr:       addr,
		dispatcher: dispatcher,
		api:        handler,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Unified API endpoint (JSON POST)
	mux.HandleFunc("/api", s.handleAPI)

	// REST API
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/fixtures", s.handleFixtures)
	mux.HandleFunc("/api/fixtures/", s.handleFixture)
	mux.HandleFunc("/api/groups", s.handleGroups)
	mux.HandleFunc("/api/groups/", s.handleGroup)
	mux.HandleFunc("/api/theme", s.handleTheme)
	mux.HandleFunc("/api/themes", s.handleThemes)
	mux.HandleFunc("/api/themes/", s.handleStoredTheme)
	mux.HandleFunc("/api/animation", s.handleAnimation)
	mux.HandleFunc("/api/animation/stop", s.handleAnimationStop)
	mux.HandleFunc("/api/brightness", s.handleBrightness)
	mux.HandleFunc("/api/power", s.handlePower)
	mux.HandleFunc("/api/schedule", s.handleSchedule)
	mux.HandleFunc("/api/schedule/next", s.handleScheduleNext)
	mux.HandleFunc("/api/health", s.handleHealth)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.addr)
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Debug("WebSocket client connected", "remote", r.RemoteAddr)

	// Subscribe to state updates
	updates := s.dispatcher.Subscribe()
	defer s.dispatcher.Unsubscribe(updates)

	// Channel for outgoing messages (serializes all writes to avoid concurrent write panic)
	outgoing := make(chan []byte, 100)
	done := make(chan struct{})

	// Single init message with fixtures, groups and states
	data, _ := json.Marshal(s.dispatcher.InitMessage())
	outgoing <- data

	// Read from client
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.logger.Debug("WebSocket read error", "error", err)
				}
				return
			}
			// Responses go through the write loop; state changes arrive via updates
			select {
			case outgoing <- s.api.HandleJSON(message):
			default:
				s.logger.Debug("WebSocket outgoing queue full, dropping response")
			}
		}
	}()

	// Write loop - all writes go through here
	for {
		select {
		case data := <-outgoing:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("WebSocket write error", "error", err)
				return
			}
		case data, ok := <-updates:
			if !ok {
				return
			}
			// data is pre-marshaled JSON from broadcastState
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("WebSocket write error", "error", err)
				return
			}
		case <-done:
			return
		}
	}
}

// handleAPI handles the unified JSON API endpoint
func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	resp := s.api.HandleJSON(body)
	w.Header().Set("Content-Type", "application/json")
	w.Write(resp)
}

// REST API Handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.api.Status())
}

func (s *Server) handleFixtures(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.api.Handle(&api.Request{Cmd: "states"}))
}

// handleFixture serves /api/fixtures/{id}: GET state, PUT color
func (s *Server) handleFixture(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/fixtures/")
	if id == "" {
		http.Error(w, "Missing fixture id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.respond(w, s.api.Handle(&api.Request{Cmd: "states", Target: id}))
	case http.MethodPut:
		if s.dispatcher.Registry().Group(id) != nil {
			http.Error(w, "Use /api/groups/"+id, http.StatusBadRequest)
			return
		}
		s.handleColor(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.api.Groups())
}

// handleGroup serves /api/groups/{name}: GET definition, PUT color
func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/groups/")
	if name == "" {
		http.Error(w, "Missing group name", http.StatusBadRequest)
		return
	}

	g := s.dispatcher.Registry().Group(name)
	if g == nil {
		http.Error(w, "Group not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.jsonResponse(w, g)
	case http.MethodPut:
		s.handleColor(w, r, name)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleColor decodes a color body and sets a fixture or group.
// ?group=0.5 overrides the group dimmer.
func (s *Server) handleColor(w http.ResponseWriter, r *http.Request, target string) {
	var c api.Color
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&c); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := &api.Request{Cmd: "set", Target: target, Color: &c}
	if v := r.URL.Query().Get("group"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "Invalid group brightness", http.StatusBadRequest)
			return
		}
		req.Brightness = &f
	}
	s.respond(w, s.api.Handle(req))
}

// handleTheme activates a theme posted as JSON. ?brightness=0.5 sets the
// master, ?remember=1 keeps the current theme for restore.
func (s *Server) handleTheme(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p, err := s.decodeTheme(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := &api.Request{Cmd: "theme", Theme: p, Remember: r.URL.Query().Get("remember") != ""}
	if v := r.URL.Query().Get("brightness"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "Invalid brightness", http.StatusBadRequest)
			return
		}
		req.Brightness = &f
	}
	s.respond(w, s.api.Handle(req))
}

// handleThemes lists (GET ?q=&category=&favorites=1) or saves (POST) themes
func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req := &api.Request{Cmd: "themes", Query: q.Get("q"), Favorites: q.Get("favorites") != ""}
		if c := q.Get("category"); c != "" {
			req.Category = &c
		}
		s.respond(w, s.api.Handle(req))
	case http.MethodPost:
		p, err := s.decodeTheme(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.respond(w, s.api.Handle(&api.Request{Cmd: "save", Theme: p}))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStoredTheme serves /api/themes/{id} and /api/themes/{id}/activate
func (s *Server) handleStoredTheme(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/themes/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		http.Error(w, "Missing theme id", http.StatusBadRequest)
		return
	}

	switch {
	case action == "activate" && r.Method == http.MethodPost:
		s.respond(w, s.api.Handle(&api.Request{Cmd: "theme", Target: id}))
	case action == "favorite" && r.Method == http.MethodPost:
		s.respond(w, s.api.Handle(&api.Request{Cmd: "favorite", Target: id}))
	case action == "" && r.Method == http.MethodGet:
		s.respond(w, s.api.Handle(&api.Request{Cmd: "get", Target: id}))
	case action == "" && r.Method == http.MethodDelete:
		s.respond(w, s.api.Handle(&api.Request{Cmd: "remove", Target: id}))
	case action == "" && r.Method == http.MethodPatch:
		var body struct {
			Name     string  `json:"name"`
			Category *string `json:"category"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var resp *api.Response
		if body.Name != "" {
			if resp = s.api.Handle(&api.Request{Cmd: "rename", Target: id, Name: body.Name}); resp.Type == "error" {
				s.respond(w, resp)
				return
			}
		}
		if body.Category != nil {
			resp = s.api.Handle(&api.Request{Cmd: "category", Target: id, Category: body.Category})
		}
		if resp == nil {
			http.Error(w, "name or category required", http.StatusBadRequest)
			return
		}
		s.respond(w, resp)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAnimation(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.api.Status().Animation)
}

func (s *Server) handleAnimationStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.respond(w, s.api.Handle(&api.Request{Cmd: "stop"}))
}

// handleBrightness reads (GET) or sets (PUT {"brightness":0.5}) the master
func (s *Server) handleBrightness(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.jsonResponse(w, map[string]float64{"brightness": s.api.Brightness()})
	case http.MethodPut, http.MethodPost:
		var body struct {
			Brightness *float64 `json:"brightness"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.Brightness == nil {
			http.Error(w, "brightness required", http.StatusBadRequest)
			return
		}
		s.respond(w, s.api.Handle(&api.Request{Cmd: "brightness", Brightness: body.Brightness}))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePower switches fixtures: {"target":"living","power":true}; no target = all
func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Target string `json:"target"`
		Power  *bool  `json:"power"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.respond(w, s.api.Handle(&api.Request{Cmd: "power", Target: body.Target, Power: body.Power}))
}

func (s *Server) decodeTheme(r *http.Request) (*theme.Palette, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, err
	}
	return theme.Decode(body)
}

// respond writes a unified API response with a matching status code
func (s *Server) respond(w http.ResponseWriter, resp *api.Response) {
	if resp.Type == "error" {
		code := http.StatusBadRequest
		if strings.Contains(resp.Error, "not found") {
			code = http.StatusNotFound
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
		return
	}
	s.jsonResponse(w, resp)
}

func (s *Server) jsonResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Helper for tests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// Addr returns the server address
func (s *Server) Addr() string {
	return s.addr
}

// SetScheduler sets the scheduler for API endpoints. It must be called
// before Start.
func (s *Server) SetScheduler(sched *scheduler.Scheduler) {
	s.scheduler = sched
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.jsonResponse(w, map[string]interface{}{"events": []interface{}{}})
		return
	}
	s.jsonResponse(w, map[string]interface{}{"events": s.scheduler.Events()})
}

func (s *Server) handleScheduleNext(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.jsonResponse(w, nil)
		return
	}
	s.jsonResponse(w, s.scheduler.NextEvent())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// Read CPU load from /proc/loadavg (Linux only)
	var load1, load5, load15 float64
	if data, err := os.ReadFile("/proc/loadavg"); err == nil {
		fmt.Sscanf(string(data), "%f %f %f", &load1, &load5, &load15)
	}

	health := HealthResponse{
		UptimeSec:  int(time.Since(startTime).Seconds()),
		UptimeStr:  time.Since(startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		CPULoad1m:  load1,
		CPULoad5m:  load5,
		CPULoad15m: load15,
		MemAllocMB: float64(m.Alloc) / 1024 / 1024,
		MemSysMB:   float64(m.Sys) / 1024 / 1024,
		MemHeapMB:  float64(m.HeapAlloc) / 1024 / 1024,
		GCRuns:     m.NumGC,
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
	}

	s.jsonResponse(w, health)
}
