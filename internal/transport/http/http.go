// Package http implements the operator REST API.
//
// Missions are submitted as JSON (text goal or base64 audio) or as raw audio
// bytes. The request blocks until the mission finishes; a stop request from
// another connection cancels it.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/fuangela/AutoDrone/internal/dispatch"
	"github.com/fuangela/AutoDrone/internal/mission"
	"github.com/fuangela/AutoDrone/internal/scene"
	"github.com/fuangela/AutoDrone/internal/transport"

	_ "github.com/fuangela/AutoDrone/docs"
)

const defaultMaxAudioBytes = 25 << 20

// MissionLister reads past missions. *history.Store implements it.
type MissionLister interface {
	Recent(ctx context.Context, limit int) ([]mission.Result, error)
}

// SceneSource yields the latest perception snapshot. *scene.Cache implements it.
type SceneSource interface {
	Load() *scene.Snapshot
}

// Options wires the read-only endpoints. Nil fields disable them.
type Options struct {
	History      MissionLister
	HistoryLimit int
	Scene        SceneSource

	// MaxAudioBytes caps a raw audio upload; JSON bodies may be twice that
	// to fit base64. Larger requests get 413. Defaults to 25 MiB.
	MaxAudioBytes int64
}

// Transport serves the REST API.
type Transport struct {
	port   int
	opts   Options
	server *http.Server
}

// New creates a new HTTP transport on the given port.
func New(port int, opts Options) *Transport {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.MaxAudioBytes <= 0 {
		opts.MaxAudioBytes = defaultMaxAudioBytes
	}
	return &Transport{port: port, opts: opts}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Handler builds the route table for svc.
func (t *Transport) Handler(svc transport.Service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /missions", func(w http.ResponseWriter, r *http.Request) {
		t.handleSubmit(w, r, svc)
	})
	mux.HandleFunc("POST /missions/stop", func(w http.ResponseWriter, r *http.Request) {
		t.handleStop(w, r, svc)
	})
	mux.HandleFunc("GET /missions", func(w http.ResponseWriter, r *http.Request) {
		t.handleList(w, r, svc)
	})
	mux.HandleFunc("GET /scene", t.handleScene)
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	return mux
}

// Listen serves until ctx is cancelled.
func (t *Transport) Listen(ctx context.Context, svc transport.Service) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           t.Handler(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// handleSubmit runs one mission.
//
// @Summary     Submit a mission
// @Description Accepts a JSON mission request (text goal or base64 audio) or raw audio bytes.
// @Description The call blocks until the drone finishes, gives up, or is stopped.
// @Tags        missions
// @Accept      json
// @Accept      audio/wav
// @Accept      audio/ogg
// @Produce     json
// @Param       request  body      mission.Request  true  "Mission request (JSON). For raw audio, POST the bytes with their Content-Type."
// @Param       X-Autodrone-Source         header  string  false  "Sender identifier (raw audio uploads)"
// @Param       X-Autodrone-Language       header  string  false  "Spoken language hint (raw audio uploads)"
// @Param       X-Autodrone-Response-Mode  header  string  false  "none, text, audio or text+audio (raw audio uploads)"
// @Success     200  {object}  mission.Result  "Mission finished (succeeded, exhausted or aborted)"
// @Failure     400  {string}  string          "Invalid request body"
// @Failure     409  {object}  mission.Result  "Another mission is in flight"
// @Failure     413  {string}  string          "Request body too large"
// @Failure     422  {object}  mission.Result  "No usable goal (empty request or failed transcription)"
// @Router      /missions [post]
func (t *Transport) handleSubmit(w http.ResponseWriter, r *http.Request, svc transport.Service) {
	var req mission.Request

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		body := http.MaxBytesReader(w, r.Body, 2*t.opts.MaxAudioBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			writeBodyError(w, "invalid json", err)
			return
		}
	default:
		audio, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.opts.MaxAudioBytes))
		if err != nil {
			writeBodyError(w, "reading audio", err)
			return
		}
		req.Audio = audio
		req.ContentType = r.Header.Get("Content-Type")
		req.Source = r.Header.Get("X-Autodrone-Source")
		req.Language = r.Header.Get("X-Autodrone-Language")
		req.ResponseMode = mission.ResponseMode(r.Header.Get("X-Autodrone-Response-Mode"))
	}
	if req.Source == "" {
		req.Source = r.RemoteAddr
	}

	result, err := svc.Handle(r.Context(), &req)
	if err != nil {
		slog.Error("mission failed", "error", err)
		http.Error(w, "mission error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	switch result.Status {
	case mission.StatusBusy:
		status = http.StatusConflict
	case mission.StatusRejected:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// writeBodyError answers 413 for an oversized body and 400 otherwise.
func writeBodyError(w http.ResponseWriter, what string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, fmt.Sprintf("%s: body exceeds %d bytes", what, tooLarge.Limit), http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, what+": "+err.Error(), http.StatusBadRequest)
}

// StopResponse names the mission that was cancelled.
type StopResponse struct {
	MissionID string `json:"mission_id"`
}

// handleStop cancels the mission in flight.
//
// @Summary     Stop the current mission
// @Description Cancels the mission in flight. The drone performs its safety command and the mission ends aborted.
// @Tags        missions
// @Produce     json
// @Success     200  {object}  StopResponse
// @Failure     404  {string}  string  "No mission in flight"
// @Router      /missions/stop [post]
func (t *Transport) handleStop(w http.ResponseWriter, _ *http.Request, svc transport.Service) {
	id, err := svc.Cancel()
	if errors.Is(err, dispatch.ErrNoMission) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, StopResponse{MissionID: id})
}

// MissionList is the GET /missions body.
type MissionList struct {
	Current  *dispatch.Active `json:"current,omitempty"`
	Missions []mission.Result `json:"missions"`
}

// handleList returns the mission in flight and recent history.
//
// @Summary     List missions
// @Tags        missions
// @Produce     json
// @Param       limit  query     int  false  "Maximum number of past missions"
// @Success     200    {object}  MissionList
// @Failure     400    {string}  string  "Invalid limit"
// @Router      /missions [get]
func (t *Transport) handleList(w http.ResponseWriter, r *http.Request, svc transport.Service) {
	limit := t.opts.HistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	list := MissionList{Missions: []mission.Result{}}
	if active, ok := svc.Current(); ok {
		list.Current = &active
	}
	if t.opts.History != nil {
		past, err := t.opts.History.Recent(r.Context(), limit)
		if err != nil {
			http.Error(w, "reading history: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if past != nil {
			list.Missions = past
		}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleScene returns what the drone currently sees.
//
// @Summary     Current scene
// @Tags        scene
// @Produce     json
// @Success     200  {object}  object  "Snapshot: frame_id, as_of, objects"
// @Failure     404  {string}  string  "Perception disabled"
// @Router      /scene [get]
func (t *Transport) handleScene(w http.ResponseWriter, _ *http.Request) {
	if t.opts.Scene == nil {
		http.Error(w, "perception disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t.opts.Scene.Load())
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
