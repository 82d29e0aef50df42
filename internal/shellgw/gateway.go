// Package shellgw is the optional local HTTP+WebSocket bridge spec.md
// §6 adds for a GUI shell running as a separate process: every
// internal/core.Session operation as a JSON REST route, plus a
// WebSocket endpoint streaming the session's eventbus.Event feed.
// Grounded on the open-uav/telemetry-bridge and DroneBridge examples'
// gomavlib+chi+gorilla/websocket+yaml-config combination, with the
// router/middleware stack itself lifted from
// PossumXI-Asgard_Arobi/internal/api/router.go.
package shellgw

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/flightpath-dev/flightcore/internal/config"
	"github.com/flightpath-dev/flightcore/internal/core"
	"github.com/flightpath-dev/flightcore/internal/firmware"
	"github.com/flightpath-dev/flightcore/internal/mission"
	"github.com/flightpath-dev/flightcore/internal/modes"
	"github.com/flightpath-dev/flightcore/internal/telemetry"
)

// Gateway wraps one core.Session behind an HTTP router and a WebSocket
// event hub.
type Gateway struct {
	session *core.Session
	hub     *hub
	router  http.Handler
}

// New builds a Gateway for session, configured per cfg.Gateway's
// CORSOrigins.
func New(session *core.Session, cfg config.GatewayConfig) *Gateway {
	g := &Gateway{
		session: session,
		hub:     newHub(),
	}
	g.router = g.newRouter(cfg)
	return g
}

// Router exposes the http.Handler for embedding in a larger mux, or for
// tests using httptest.
func (g *Gateway) Router() http.Handler { return g.router }

// Run starts the event-bus-to-WebSocket pump and blocks serving addr
// until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context, addr string) error {
	go g.hub.pump(ctx, g.session.Bus())
	defer g.hub.stop()

	srv := &http.Server{Addr: addr, Handler: g.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (g *Gateway) newRouter(cfg config.GatewayConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/ws/events", g.hub.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", g.handleHealth)
		r.Get("/ports", g.handleListPorts)
		r.Post("/connect", g.handleConnect)
		r.Post("/disconnect", g.handleDisconnect)
		r.Post("/detect", g.handleDetectBoard)

		r.Route("/firmware", func(r chi.Router) {
			r.Get("/boards", g.handleFetchBoards)
			r.Get("/versions", g.handleFetchVersions)
			r.Post("/download", g.handleDownloadFirmware)
		})

		r.Post("/flash", g.handleFlash)
		r.Post("/flash/abort", g.handleAbortFlash)

		r.Route("/params", func(r chi.Router) {
			r.Get("/{id}", g.handleGetParam)
			r.Post("/{id}", g.handleSetParam)
			r.Post("/dump", g.handleDumpParams)
		})

		r.Route("/mission", func(r chi.Router) {
			r.Get("/", g.handleDownloadMission)
			r.Put("/", g.handleUploadMission)
			r.Delete("/", g.handleClearMission)
		})
		r.Route("/rally", func(r chi.Router) {
			r.Get("/", g.handleDownloadRally)
			r.Put("/", g.handleUploadRally)
			r.Delete("/", g.handleClearRally)
		})

		r.Route("/modes", func(r chi.Router) {
			r.Get("/", g.handleReadModeRanges)
			r.Put("/{slot}", g.handleWriteModeRange)
			r.Post("/save", g.handleSaveEeprom)
		})
		r.Post("/reboot", g.handleReboot)

		r.Post("/telemetry/subscribe", g.handleSubscribeTelemetry)
		r.Post("/telemetry/unsubscribe", g.handleUnsubscribeTelemetry)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleListPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := g.session.ListPorts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ports)
}

func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req core.ConnectOptions
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := g.session.Connect(req); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (g *Gateway) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := g.session.Disconnect(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (g *Gateway) handleDetectBoard(w http.ResponseWriter, r *http.Request) {
	board, err := g.session.DetectBoard(r.Context())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (g *Gateway) handleFetchBoards(w http.ResponseWriter, r *http.Request) {
	source := firmware.Source(r.URL.Query().Get("source"))
	vehicle := firmware.Vehicle(r.URL.Query().Get("vehicle"))
	boards, err := g.session.FetchBoards(r.Context(), source, vehicle)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

func (g *Gateway) handleFetchVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := firmware.Source(q.Get("source"))
	vehicle := firmware.Vehicle(q.Get("vehicle"))
	boardTarget := q.Get("board")
	boardID := 0
	if v := q.Get("board_id"); v != "" {
		json.Unmarshal([]byte(v), &boardID)
	}
	versions, err := g.session.FetchVersions(r.Context(), source, vehicle, boardTarget, boardID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

type downloadFirmwareRequest struct {
	Source         firmware.Source         `json:"source"`
	BoardTarget    string                  `json:"boardTarget"`
	VersionLabel   string                  `json:"versionLabel"`
	Version        firmware.FirmwareVersion `json:"version"`
	ExpectedSHA256 string                  `json:"expectedSha256"`
}

func (g *Gateway) handleDownloadFirmware(w http.ResponseWriter, r *http.Request) {
	var req downloadFirmwareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	path, err := g.session.DownloadFirmware(r.Context(), req.Source, req.BoardTarget, req.VersionLabel, req.Version, req.ExpectedSHA256, nil)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (g *Gateway) handleFlash(w http.ResponseWriter, r *http.Request) {
	var job core.FlashJob
	if err := decodeJSON(r, &job); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if job.Download != nil {
		job.Download.Cache = g.session.FirmwareCache()
	}
	result, err := g.session.Flash(r.Context(), job)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (g *Gateway) handleAbortFlash(w http.ResponseWriter, r *http.Request) {
	g.session.AbortFlash()
	writeJSON(w, http.StatusOK, map[string]string{"status": "abort requested"})
}

func (g *Gateway) handleGetParam(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok, err := g.session.GetParam(id)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, &paramNotFoundError{ID: id})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type paramNotFoundError struct{ ID string }

func (e *paramNotFoundError) Error() string { return "param " + e.ID + " not found" }

type setParamRequest struct {
	Value float32 `json:"value"`
	Type  uint8   `json:"type"`
}

func (g *Gateway) handleSetParam(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req setParamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := g.session.SetParam(r.Context(), id, req.Value, req.Type); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "set"})
}

func (g *Gateway) handleDumpParams(w http.ResponseWriter, r *http.Request) {
	params, err := g.session.DumpParams(r.Context())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

func (g *Gateway) handleDownloadMission(w http.ResponseWriter, r *http.Request) {
	items, err := g.session.DownloadMission(r.Context())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (g *Gateway) handleUploadMission(w http.ResponseWriter, r *http.Request) {
	var items []mission.Item
	if err := decodeJSON(r, &items); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := g.session.UploadMission(r.Context(), items); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "uploaded"})
}

func (g *Gateway) handleClearMission(w http.ResponseWriter, r *http.Request) {
	if err := g.session.ClearMission(r.Context()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (g *Gateway) handleDownloadRally(w http.ResponseWriter, r *http.Request) {
	points, err := g.session.DownloadRally(r.Context())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (g *Gateway) handleUploadRally(w http.ResponseWriter, r *http.Request) {
	var points []mission.RallyPoint
	if err := decodeJSON(r, &points); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := g.session.UploadRally(r.Context(), points); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "uploaded"})
}

func (g *Gateway) handleClearRally(w http.ResponseWriter, r *http.Request) {
	if err := g.session.ClearRally(r.Context()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (g *Gateway) handleReadModeRanges(w http.ResponseWriter, r *http.Request) {
	ranges, err := g.session.ReadModeRanges(r.Context())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, ranges)
}

func (g *Gateway) handleWriteModeRange(w http.ResponseWriter, r *http.Request) {
	slot := 0
	json.Unmarshal([]byte(chi.URLParam(r, "slot")), &slot)
	var mr modes.ModeRange
	if err := decodeJSON(r, &mr); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := g.session.WriteModeRange(r.Context(), slot, mr); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "written"})
}

func (g *Gateway) handleSaveEeprom(w http.ResponseWriter, r *http.Request) {
	if err := g.session.SaveEeprom(r.Context()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

type rebootRequest struct {
	Mode core.RebootMode `json:"mode"`
}

func (g *Gateway) handleReboot(w http.ResponseWriter, r *http.Request) {
	var req rebootRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Mode == "" {
		req.Mode = core.RebootNormal
	}
	if err := g.session.Reboot(r.Context(), req.Mode); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebooting"})
}

type subscribeTelemetryRequest struct {
	Stream telemetry.Stream `json:"stream"`
	RateHz int              `json:"rateHz"`
}

func (g *Gateway) handleSubscribeTelemetry(w http.ResponseWriter, r *http.Request) {
	var req subscribeTelemetryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	token, err := g.session.SubscribeTelemetry(r.Context(), req.Stream, req.RateHz)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"token": uint64(token)})
}

type unsubscribeTelemetryRequest struct {
	Token uint64 `json:"token"`
}

func (g *Gateway) handleUnsubscribeTelemetry(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeTelemetryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := g.session.UnsubscribeTelemetry(telemetry.Token(req.Token)); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}
