// Package server exposes the control surface: the HTTP request/response
// endpoints and the realtime websocket channel, both thin routing layers
// over the session engine and the playlist views.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"live-subtitler/internal/hub"
	"live-subtitler/internal/playlist"
	"live-subtitler/internal/session"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// Handler routes external requests into the engine and playlist builder.
type Handler struct {
	engine    *session.Engine
	playlists *playlist.Builder
	hub       *hub.Hub
	log       *slog.Logger
}

// NewHandler returns a Handler over the given collaborators.
func NewHandler(e *session.Engine, b *playlist.Builder, h *hub.Hub, log *slog.Logger) *Handler {
	return &Handler{engine: e, playlists: b, hub: h, log: log}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/config", h.GetConfig)
	r.Get("/delay", h.GetDelay)
	r.Post("/delay", h.SetDelay)
	r.Get("/live/status", h.LiveStatus)
	r.Post("/live/start", h.StartLive)
	r.Post("/live/stop", h.StopLive)
	r.Get("/fragment/config", h.GetFragmentConfig)
	r.Post("/fragment/config", h.SetFragmentConfig)
	r.Get("/fragment/status", h.FragmentStatus)
	r.Post("/fragment/start", h.StartFragment)
	r.Post("/fragment/stop", h.StopFragment)
	r.Get("/fragment/raw-captions", h.RawCaptions)
	r.Get("/hls/live.m3u8", h.LivePlaylist)
	r.Get("/hls/delayed.m3u8", h.DelayedPlaylist)
	r.Get("/ws", h.ServeWS)
}

// fragmentConfigBody carries the tunable fragment settings; pointers
// distinguish absent fields from zero values.
type fragmentConfigBody struct {
	DelaySec           *int `json:"delaySec"`
	SlotDuration       *int `json:"slotDuration"`
	OverlapDuration    *int `json:"overlapDuration"`
	NotifyBefore       *int `json:"notifyBefore"`
	GracePeriodPercent *int `json:"gracePeriodPercent"`
	RequiredSubtitlers *int `json:"requiredSubtitlers"`
	SettleMs           *int `json:"settleMs"`
}

func (b fragmentConfigBody) apply(cfg session.Config) session.Config {
	if b.DelaySec != nil {
		cfg.DelaySec = *b.DelaySec
	}
	if b.SlotDuration != nil {
		cfg.SlotDuration = *b.SlotDuration
	}
	if b.OverlapDuration != nil {
		cfg.OverlapDuration = *b.OverlapDuration
	}
	if b.NotifyBefore != nil {
		cfg.NotifyBefore = *b.NotifyBefore
	}
	if b.GracePeriodPercent != nil {
		cfg.GracePercent = *b.GracePeriodPercent
	}
	if b.RequiredSubtitlers != nil {
		cfg.RequiredSubtitlers = *b.RequiredSubtitlers
	}
	if b.SettleMs != nil {
		cfg.SettleDelay = time.Duration(*b.SettleMs) * time.Millisecond
	}
	return cfg
}

type startLiveBody struct {
	Source string `json:"source"`
	Mode   string `json:"mode"`
	fragmentConfigBody
}

// GetConfig handles GET /config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	st := h.engine.RunStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"delaySec":     st.DelaySec,
		"mode":         st.Mode,
		"fragmentMode": st.FragmentMode,
	})
}

// GetDelay handles GET /delay.
func (h *Handler) GetDelay(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"delaySec": h.engine.DelaySec()})
}

// SetDelay handles POST /delay, rejecting values outside [minDelay, maxDelay].
func (h *Handler) SetDelay(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DelaySec *int `json:"delaySec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DelaySec == nil {
		writeError(w, http.StatusBadRequest, "delaySec required")
		return
	}
	if err := h.engine.SetDelay(*body.DelaySec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"delaySec": *body.DelaySec})
}

// LiveStatus handles GET /live/status.
func (h *Handler) LiveStatus(w http.ResponseWriter, r *http.Request) {
	st := h.engine.RunStatus()
	hasManifest, segments := h.playlists.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":       st.Running,
		"liveStartedAt": st.LiveStartedAt,
		"manifest":      hasManifest,
		"segmentCount":  segments,
		"mode":          st.Mode,
		"delaySec":      st.DelaySec,
		"fragmentMode":  st.FragmentMode,
		"minSubtitlers": st.MinSubtitlers,
	})
}

// StartLive handles POST /live/start.
func (h *Handler) StartLive(w http.ResponseWriter, r *http.Request) {
	var body startLiveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if body.Source == "" {
		writeError(w, http.StatusBadRequest, "source required")
		return
	}
	cfg := body.apply(h.engine.ConfigSnapshot())
	if err := h.engine.StartRun(body.Source, body.Mode, cfg); err != nil {
		h.log.Info("start refused", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.engine.RunStatus())
}

// StopLive handles POST /live/stop; stopping an idle session is a no-op.
func (h *Handler) StopLive(w http.ResponseWriter, r *http.Request) {
	h.engine.StopRun()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

// GetFragmentConfig handles GET /fragment/config.
func (h *Handler) GetFragmentConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.ConfigSnapshot()
	writeJSON(w, http.StatusOK, fragmentConfigJSON(cfg))
}

// SetFragmentConfig handles POST /fragment/config.
func (h *Handler) SetFragmentConfig(w http.ResponseWriter, r *http.Request) {
	var body fragmentConfigBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	cfg := body.apply(h.engine.ConfigSnapshot())
	if err := h.engine.UpdateConfig(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fragmentConfigJSON(cfg))
}

// FragmentStatus handles GET /fragment/status.
func (h *Handler) FragmentStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.FragmentStatus())
}

// StartFragment handles POST /fragment/start.
func (h *Handler) StartFragment(w http.ResponseWriter, r *http.Request) {
	var body fragmentConfigBody
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "malformed body")
			return
		}
	}
	cfg := body.apply(h.engine.ConfigSnapshot())
	if err := h.engine.StartFragment(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.engine.FragmentStatus())
}

// StopFragment handles POST /fragment/stop.
func (h *Handler) StopFragment(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StopFragment(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": false})
}

// RawCaptions handles GET /fragment/raw-captions: the slot-indexed export.
func (h *Handler) RawCaptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"slots": h.engine.RawCaptionsDump()})
}

// LivePlaylist handles GET /hls/live.m3u8.
func (h *Handler) LivePlaylist(w http.ResponseWriter, r *http.Request) {
	body, err := h.playlists.Live()
	if err != nil {
		h.writePlaylistError(w, err)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.Write([]byte(body))
}

// DelayedPlaylist handles GET /hls/delayed.m3u8.
func (h *Handler) DelayedPlaylist(w http.ResponseWriter, r *http.Request) {
	body, err := h.playlists.Delayed(h.engine.DelaySec())
	if err != nil {
		h.writePlaylistError(w, err)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.Write([]byte(body))
}

func (h *Handler) writePlaylistError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, playlist.ErrNotEnoughSegments):
		http.Error(w, "not enough segments", http.StatusNotFound)
	case errors.Is(err, playlist.ErrNoManifest):
		http.Error(w, "no upstream playlist", http.StatusNotFound)
	default:
		h.log.Error("playlist view failed", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func fragmentConfigJSON(cfg session.Config) map[string]any {
	return map[string]any{
		"delaySec":           cfg.DelaySec,
		"slotDuration":       cfg.SlotDuration,
		"overlapDuration":    cfg.OverlapDuration,
		"gracePeriodPercent": cfg.GracePercent,
		"notifyBefore":       cfg.NotifyBefore,
		"requiredSubtitlers": cfg.RequiredSubtitlers,
		"minRequired":        cfg.MinRequired(),
		"minDelay":           cfg.MinDelay(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
