// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"lighting-engine/internal/animation"
	"lighting-engine/internal/fixture"
	"lighting-engine/internal/library"
	"lighting-engine/internal/lights"
	"lighting-engine/internal/metrics"
	"lighting-engine/internal/theme"
)

// ErrLibraryDisabled is returned by library commands when no store is configured
var ErrLibraryDisabled = errors.New("theme library disabled")

// Request is the unified JSON request format for all protocols
// Used by: HTTP POST /api, WebSocket, MQTT
type Request struct {
	Cmd        string         `json:"cmd"`                  // see Handle for the command list
	Target     string         `json:"target,omitempty"`     // fixture id/address, group name or theme id
	Theme      *theme.Palette `json:"theme,omitempty"`      // inline theme or animated palette
	Color      *Color         `json:"color,omitempty"`      // for set
	Brightness *float64       `json:"brightness,omitempty"` // master 0-1 (group 0-1 for set on a group)
	Power      *bool          `json:"power,omitempty"`
	Name       string         `json:"name,omitempty"`     // for rename
	Category   *string        `json:"category,omitempty"` // for category and themes filter
	Query      string         `json:"query,omitempty"`    // for themes filter
	Favorites  bool           `json:"favorites,omitempty"`
	Remember   bool           `json:"remember,omitempty"` // keep the current theme for restore
}

// Color is a direct color command
type Color struct {
	Hue        float64 `json:"hue"`
	Saturation float64 `json:"saturation"`
	Brightness float64 `json:"brightness"` // 0-100
	Kelvin     float64 `json:"kelvin"`
	DurationMs *int64  `json:"duration_ms,omitempty"` // default 300
}

// Response is the unified JSON response format
type Response struct {
	Type   string      `json:"type"`             // status, fixtures, states, state, groups, themes, theme, result, ok, error
	Target string      `json:"target,omitempty"` // echoes request target
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// ActiveTheme identifies the theme currently shown
type ActiveTheme struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Animated bool   `json:"animated"`
}

// Status is the data of a status response
type Status struct {
	Master    float64          `json:"master"`
	Fixtures  int              `json:"fixtures"`
	Active    *ActiveTheme     `json:"active,omitempty"`
	Animation animation.Status `json:"animation"`
	Library   bool             `json:"library"`
}

// Handler processes unified API requests
type Handler struct {
	dispatcher *lights.Dispatcher
	engine     *animation.Engine
	library    *library.Library // nil = disabled
	logger     *slog.Logger

	mu     sync.Mutex
	master float64
	active *theme.Palette
}

// NewHandler creates a new API handler. The master brightness starts at the
// value persisted in the library, or defaultMaster.
func NewHandler(d *lights.Dispatcher, e *animation.Engine, lib *library.Library, defaultMaster float64, logger *slog.Logger) *Handler {
	h := &Handler{
		dispatcher: d,
		engine:     e,
		library:    lib,
		logger:     logger,
		master:     defaultMaster,
	}
	if lib != nil {
		if v, ok, err := lib.Brightness(); err != nil {
			logger.Warn("Cannot read stored brightness", "error", err)
		} else if ok {
			h.master = v
		}
	}
	return h
}

// Handle processes a request and returns a response
func (h *Handler) Handle(req *Request) *Response {
	switch req.Cmd {
	case "status":
		return &Response{Type: "status", Data: h.Status()}
	case "fixtures":
		return &Response{Type: "fixtures", Data: h.dispatcher.Registry().All()}
	case "states":
		return h.handleStates(req.Target)
	case "groups":
		return &Response{Type: "groups", Data: h.Groups()}
	case "theme", "animate":
		return h.handleTheme(req)
	case "restore":
		return h.handleRestore()
	case "stop":
		return &Response{Type: "ok", Data: map[string]bool{"stopped": h.StopAnimation()}}
	case "brightness":
		return h.handleBrightness(req.Brightness)
	case "power":
		return h.handlePower(req.Target, req.Power)
	case "set":
		return h.handleSet(req)
	case "themes":
		return h.handleThemes(req)
	case "get":
		return h.handleGet(req.Target)
	case "save":
		return h.handleSave(req)
	case "remove":
		return h.handleRemove(req.Target)
	case "favorite":
		return h.handleLibraryUpdate(req.Target, func(lib *library.Library) (*theme.Palette, error) {
			return lib.ToggleFavorite(req.Target)
		})
	case "rename":
		if req.Name == "" {
			return errorResponse(req.Target, "name required")
		}
		return h.handleLibraryUpdate(req.Target, func(lib *library.Library) (*theme.Palette, error) {
			return lib.Rename(req.Target, req.Name)
		})
	case "category":
		if req.Category == nil {
			return errorResponse(req.Target, "category required")
		}
		return h.handleLibraryUpdate(req.Target, func(lib *library.Library) (*theme.Palette, error) {
			return lib.SetCategory(req.Target, *req.Category)
		})
	case "categories":
		return h.handleCategories()
	default:
		return &Response{Type: "error", Error: "unknown command: " + req.Cmd}
	}
}

// HandleJSON parses JSON and returns JSON response
func (h *Handler) HandleJSON(data []byte) []byte {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		resp := &Response{Type: "error", Error: "invalid JSON: " + err.Error()}
		out, _ := json.Marshal(resp)
		return out
	}
	resp := h.Handle(&req)
	out, _ := json.Marshal(resp)
	return out
}

func errorResponse(target, msg string) *Response {
	return &Response{Type: "error", Target: target, Error: msg}
}

// Status returns the engine status
func (h *Handler) Status() Status {
	h.mu.Lock()
	st := Status{
		Master:   h.master,
		Fixtures: h.dispatcher.Registry().Len(),
		Library:  h.library != nil,
	}
	if h.active != nil {
		st.Active = &ActiveTheme{ID: h.active.ID, Name: h.active.Name, Animated: h.active.IsAnimated()}
	}
	h.mu.Unlock()

	st.Animation = h.engine.Status()
	return st
}

// States returns every fixture state in registry order
func (h *Handler) States() []lights.FixtureStatus {
	return h.dispatcher.States()
}

// Groups returns every group in name order
func (h *Handler) Groups() []*fixture.Group {
	reg := h.dispatcher.Registry()
	out := make([]*fixture.Group, 0)
	for _, name := range reg.Groups() {
		out = append(out, reg.Group(name))
	}
	return out
}

// Brightness returns the master brightness
func (h *Handler) Brightness() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.master
}

// AnimationRunning reports whether an animated palette is playing
func (h *Handler) AnimationRunning() bool {
	return h.engine.IsRunning()
}

// StopAnimation stops the animation engine; returns false when idle
func (h *Handler) StopAnimation() bool {
	if !h.engine.IsRunning() {
		return false
	}
	h.engine.Stop()
	metrics.CommandsTotal.WithLabelValues("stop").Inc()
	return true
}

func validBrightness(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
		return fmt.Errorf("brightness %v out of range 0-1", v)
	}
	return nil
}

// Activate shows a theme: animated palettes go to the animation engine,
// static themes stop any animation and are applied once. A nil master keeps
// the current master brightness.
func (h *Handler) Activate(p *theme.Palette, master *float64, remember bool) (lights.ApplyResult, error) {
	var res lights.ApplyResult
	if master != nil {
		if err := validBrightness(*master); err != nil {
			return res, err
		}
	}

	h.mu.Lock()
	if master != nil {
		h.master = *master
	}
	m := h.master
	h.mu.Unlock()

	if p.IsAnimated() {
		if err := h.engine.Start(p, m); err != nil {
			metrics.ErrorsTotal.WithLabelValues("animate").Inc()
			return res, err
		}
		metrics.CommandsTotal.WithLabelValues("animate").Inc()
	} else {
		h.engine.Stop()
		res = h.dispatcher.SetLightingTheme(&p.Theme, lights.WithMaster(m))
	}

	h.mu.Lock()
	h.active = p
	h.mu.Unlock()

	if h.library != nil {
		if err := h.library.SetActive(p, remember); err != nil {
			h.logger.Warn("Cannot record active theme", "error", err)
		}
		if master != nil {
			h.persistBrightness(m)
		}
	}
	return res, nil
}

// ActivateStored shows a library theme by id
func (h *Handler) ActivateStored(id string, master *float64) (lights.ApplyResult, error) {
	if h.library == nil {
		return lights.ApplyResult{}, ErrLibraryDisabled
	}
	p, err := h.library.Get(id)
	if err != nil {
		return lights.ApplyResult{}, fmt.Errorf("theme %s: %w", id, err)
	}
	return h.Activate(p, master, false)
}

// SetBrightness changes the master brightness. A running animation picks it
// up on its next tick; otherwise the cached state is re-applied.
func (h *Handler) SetBrightness(v float64) (lights.ApplyResult, error) {
	if err := validBrightness(v); err != nil {
		return lights.ApplyResult{}, err
	}

	h.mu.Lock()
	h.master = v
	h.mu.Unlock()

	var res lights.ApplyResult
	if h.engine.IsRunning() {
		h.engine.SetBrightness(v)
		metrics.CommandsTotal.WithLabelValues("brightness").Inc()
	} else {
		res = h.dispatcher.Rebrighten(v, lights.DefaultTransition)
	}

	h.persistBrightness(v)
	return res, nil
}

func (h *Handler) persistBrightness(v float64) {
	if h.library == nil {
		return
	}
	if err := h.library.SetBrightness(v); err != nil {
		h.logger.Warn("Cannot store brightness", "error", err)
	}
}

// SetPower switches a fixture, a group, or every fixture when target is empty
func (h *Handler) SetPower(target string, on bool) (lights.ApplyResult, error) {
	if target == "" {
		return h.dispatcher.SetPowerAll(on), nil
	}
	if g := h.dispatcher.Registry().Group(target); g != nil {
		return h.dispatcher.SetPower(g.Fixtures, on), nil
	}
	if _, ok := h.dispatcher.Registry().Resolve(target); !ok {
		return lights.ApplyResult{}, fmt.Errorf("unknown fixture or group: %s", target)
	}
	return h.dispatcher.SetPower([]string{target}, on), nil
}

func (h *Handler) handleStates(target string) *Response {
	if target == "" {
		return &Response{Type: "states", Data: h.dispatcher.States()}
	}
	st, ok := h.dispatcher.State(target)
	if !ok {
		return errorResponse(target, "fixture not found")
	}
	return &Response{Type: "state", Target: target, Data: st}
}

func (h *Handler) handleTheme(req *Request) *Response {
	var p *theme.Palette
	switch {
	case req.Theme != nil:
		p = req.Theme
	case req.Target != "":
		if h.library == nil {
			return errorResponse(req.Target, ErrLibraryDisabled.Error())
		}
		stored, err := h.library.Get(req.Target)
		if err != nil {
			return errorResponse(req.Target, err.Error())
		}
		p = stored
	default:
		return errorResponse("", "theme or target required")
	}

	if err := p.Validate(); err != nil {
		return errorResponse(req.Target, err.Error())
	}
	if req.Cmd == "animate" && !p.IsAnimated() {
		return errorResponse(req.Target, theme.ErrNotAnimated.Error())
	}

	res, err := h.Activate(p, req.Brightness, req.Remember)
	if err != nil {
		return errorResponse(req.Target, err.Error())
	}
	return &Response{Type: "result", Target: req.Target, Data: res}
}

func (h *Handler) handleRestore() *Response {
	if h.library == nil {
		return errorResponse("", ErrLibraryDisabled.Error())
	}
	prev, err := h.library.Previous()
	if err != nil {
		return errorResponse("", "no previous theme")
	}
	res, err := h.Activate(prev, nil, false)
	if err != nil {
		return errorResponse("", err.Error())
	}
	if err := h.library.ClearPrevious(); err != nil {
		h.logger.Warn("Cannot clear previous theme", "error", err)
	}
	return &Response{Type: "result", Target: prev.ID, Data: res}
}

func (h *Handler) handleBrightness(v *float64) *Response {
	if v == nil {
		return &Response{Type: "status", Data: map[string]float64{"master": h.Brightness()}}
	}
	res, err := h.SetBrightness(*v)
	if err != nil {
		return errorResponse("", err.Error())
	}
	return &Response{Type: "result", Data: res}
}

func (h *Handler) handlePower(target string, power *bool) *Response {
	if power == nil {
		return errorResponse(target, "power required")
	}
	res, err := h.SetPower(target, *power)
	if err != nil {
		return errorResponse(target, err.Error())
	}
	return &Response{Type: "result", Target: target, Data: res}
}

func (h *Handler) handleSet(req *Request) *Response {
	if req.Target == "" {
		return errorResponse("", "target required")
	}
	if req.Color == nil {
		return errorResponse(req.Target, "color required")
	}

	in := theme.Instruction{
		Hue:        req.Color.Hue,
		Saturation: req.Color.Saturation,
		Brightness: req.Color.Brightness,
		Kelvin:     req.Color.Kelvin,
		Duration:   lights.DefaultTransition,
	}
	if req.Color.DurationMs != nil {
		in.Duration = time.Duration(max(*req.Color.DurationMs, 0)) * time.Millisecond
	}
	if in.Kelvin == 0 {
		in.Kelvin = lights.DefaultKelvin
	}
	master := h.Brightness()

	if g := h.dispatcher.Registry().Group(req.Target); g != nil {
		group := g.Brightness
		if req.Brightness != nil {
			if err := validBrightness(*req.Brightness); err != nil {
				return errorResponse(req.Target, err.Error())
			}
			group = *req.Brightness
		}
		res := h.dispatcher.SetGroupLights(g.Fixtures, in, master, group)
		return &Response{Type: "result", Target: req.Target, Data: res}
	}

	if !h.dispatcher.SetSingleLight(req.Target, in, master, 1) {
		metrics.ErrorsTotal.WithLabelValues("set").Inc()
		return errorResponse(req.Target, "unknown fixture or group")
	}
	return &Response{Type: "result", Target: req.Target, Data: lights.ApplyResult{Applied: 1}}
}

func (h *Handler) handleThemes(req *Request) *Response {
	if h.library == nil {
		return errorResponse("", ErrLibraryDisabled.Error())
	}
	f := library.Filter{Query: req.Query, FavoritesOnly: req.Favorites}
	if req.Category != nil {
		f.Category = *req.Category
	}
	list, err := h.library.List(f)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("library").Inc()
		return errorResponse("", err.Error())
	}
	if list == nil {
		list = []*theme.Palette{}
	}
	return &Response{Type: "themes", Data: list}
}

func (h *Handler) handleGet(id string) *Response {
	if h.library == nil {
		return errorResponse(id, ErrLibraryDisabled.Error())
	}
	p, err := h.library.Get(id)
	if err != nil {
		return errorResponse(id, err.Error())
	}
	return &Response{Type: "theme", Target: id, Data: p}
}

func (h *Handler) handleSave(req *Request) *Response {
	if h.library == nil {
		return errorResponse("", ErrLibraryDisabled.Error())
	}
	if req.Theme == nil {
		return errorResponse("", "theme required")
	}
	if err := req.Theme.Validate(); err != nil {
		return errorResponse("", err.Error())
	}
	if req.Theme.IsAnimated() {
		if _, _, err := req.Theme.ParsedKeyframes(); err != nil {
			return errorResponse("", err.Error())
		}
	}
	saved, err := h.library.Save(req.Theme)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("library").Inc()
		return errorResponse("", err.Error())
	}
	metrics.CommandsTotal.WithLabelValues("save").Inc()
	return &Response{Type: "theme", Target: saved.ID, Data: saved}
}

func (h *Handler) handleRemove(id string) *Response {
	if h.library == nil {
		return errorResponse(id, ErrLibraryDisabled.Error())
	}
	if err := h.library.Delete(id); err != nil {
		return errorResponse(id, err.Error())
	}
	return &Response{Type: "ok", Target: id}
}

func (h *Handler) handleLibraryUpdate(id string, fn func(lib *library.Library) (*theme.Palette, error)) *Response {
	if h.library == nil {
		return errorResponse(id, ErrLibraryDisabled.Error())
	}
	if id == "" {
		return errorResponse("", "target required")
	}
	p, err := fn(h.library)
	if err != nil {
		return errorResponse(id, err.Error())
	}
	return &Response{Type: "theme", Target: id, Data: p}
}

func (h *Handler) handleCategories() *Response {
	if h.library == nil {
		return errorResponse("", ErrLibraryDisabled.Error())
	}
	cats, err := h.library.Categories()
	if err != nil {
		return errorResponse("", err.Error())
	}
	return &Response{Type: "categories", Data: cats}
}
