package net

import (
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"strings"
	"time"

	"airlock/server/buildinfo"
	"airlock/server/internal/net/ws"
	"airlock/server/internal/replay"
	"airlock/server/internal/room"
	"airlock/server/internal/telemetry"
	"airlock/server/logging"
)

type HTTPHandlerConfig struct {
	ClientDir string
	TickRate  int
	Logger    telemetry.Logger
	Metrics   *logging.Metrics
	Publisher logging.Publisher
}

func NewHTTPHandler(hub *room.Hub, store *replay.Store, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status       string `json:"status"`
			ServerTime   int64  `json:"serverTime"`
			BuildVersion string `json:"buildVersion"`
			TickRate     int    `json:"tickRate"`
			Rooms        any    `json:"rooms"`
			Telemetry    any    `json:"telemetry,omitempty"`
		}{
			Status:       "ok",
			ServerTime:   time.Now().UnixMilli(),
			BuildVersion: buildinfo.Version(),
			TickRate:     cfg.TickRate,
			Rooms:        hub.DiagnosticsSnapshot(),
		}
		if cfg.Metrics != nil {
			payload.Telemetry = cfg.Metrics.Snapshot()
		}

		writeJSON(w, payload)
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Name string `json:"name"`
		}
		if r.Body != nil {
			defer r.Body.Close()
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
				httpError(w, "invalid payload", nethttp.StatusBadRequest)
				return
			}
		}
		if req.Name == "" {
			req.Name = "anonymous"
		}

		join, err := hub.Join(req.Name)
		if err != nil {
			logger.Printf("join failed: %v", err)
			httpError(w, "join refused", nethttp.StatusConflict)
			return
		}
		writeJSON(w, join)
	})

	wsHandler := ws.NewHandler(hub, ws.HandlerConfig{Logger: logger, Publisher: cfg.Publisher})
	mux.HandleFunc("/ws", wsHandler.Handle)

	mux.HandleFunc("/replays", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		infos, err := store.ListReplays(r.Context())
		if err != nil {
			logger.Printf("list replays: %v", err)
			httpError(w, "failed to list replays", nethttp.StatusInternalServerError)
			return
		}
		writeJSON(w, struct {
			Replays []replay.Info `json:"replays"`
		}{Replays: infos})
	})

	mux.HandleFunc("/replays/", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		matchID := strings.TrimPrefix(r.URL.Path, "/replays/")
		if matchID == "" || strings.Contains(matchID, "/") {
			httpError(w, "missing match id", nethttp.StatusBadRequest)
			return
		}

		data, err := store.LoadReplay(r.Context(), matchID)
		if errors.Is(err, replay.ErrNoReplay) {
			httpError(w, "no replay for match", nethttp.StatusNotFound)
			return
		}
		if err != nil {
			logger.Printf("load replay %s: %v", matchID, err)
			httpError(w, "failed to load replay", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write(data)
	})

	mux.HandleFunc("/builds", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		var req struct {
			BuildVersion   string `json:"buildVersion"`
			ClientArtifact string `json:"clientArtifact"`
		}
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, "invalid payload", nethttp.StatusBadRequest)
			return
		}
		if req.BuildVersion == "" || req.ClientArtifact == "" {
			httpError(w, "buildVersion and clientArtifact required", nethttp.StatusBadRequest)
			return
		}

		if err := store.RegisterBuild(r.Context(), req.BuildVersion, req.ClientArtifact); err != nil {
			logger.Printf("register build %s: %v", req.BuildVersion, err)
			httpError(w, "failed to register build", nethttp.StatusInternalServerError)
			return
		}
		w.WriteHeader(nethttp.StatusNoContent)
	})

	mux.HandleFunc("/builds/", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		buildVersion := strings.TrimPrefix(r.URL.Path, "/builds/")
		if buildVersion == "" || strings.Contains(buildVersion, "/") {
			httpError(w, "missing build version", nethttp.StatusBadRequest)
			return
		}

		artifact, err := store.ClientArtifact(r.Context(), buildVersion)
		if errors.Is(err, replay.ErrNoBuild) {
			httpError(w, "unknown build", nethttp.StatusNotFound)
			return
		}
		if err != nil {
			logger.Printf("resolve build %s: %v", buildVersion, err)
			httpError(w, "failed to resolve build", nethttp.StatusInternalServerError)
			return
		}

		writeJSON(w, struct {
			BuildVersion   string `json:"buildVersion"`
			ClientArtifact string `json:"clientArtifact"`
		}{BuildVersion: buildVersion, ClientArtifact: artifact})
	})

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return mux
}

func writeJSON(w nethttp.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
