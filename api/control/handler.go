// Package control exposes the dual-run lifecycle over HTTP: starting and
// stopping paired runs, live perturbations, and the scenario catalog.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/smarttraffic/dualsim/core/demand"
	"github.com/smarttraffic/dualsim/core/dual"
	"github.com/smarttraffic/dualsim/core/logger"
	"github.com/smarttraffic/dualsim/core/model"
	"github.com/smarttraffic/dualsim/core/perturb"
	"github.com/smarttraffic/dualsim/core/scenario"
	"github.com/smarttraffic/dualsim/core/session"
)

// Controller is the slice of the dual controller the API drives.
type Controller interface {
	Start(ctx context.Context, req dual.StartRequest) (model.RunStatus, error)
	Stop(ctx context.Context) (model.RunStatus, error)
	Status() model.RunStatus
}

// Handler serves the control endpoints.
type Handler struct {
	ctl     Controller
	catalog *scenario.Catalog
	store   *demand.Store
	bus     *perturb.Bus
	log     logger.Logger
}

// NewHandler wires the control API. store may be nil, in which case demand
// previews use the synthetic profile.
func NewHandler(ctl Controller, catalog *scenario.Catalog, store *demand.Store, bus *perturb.Bus, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Handler{ctl: ctl, catalog: catalog, store: store, bus: bus, log: log}
}

// Register mounts every control route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/dual/start", h.start)
	mux.HandleFunc("POST /api/dual/stop", h.stop)
	mux.HandleFunc("GET /api/dual/status", h.status)
	mux.HandleFunc("POST /api/dual/emergency", h.emergency)
	mux.HandleFunc("POST /api/dual/weather", h.weather)
	mux.HandleFunc("POST /api/dual/signal/{junction}/phase/{phase}", h.phase)
	mux.HandleFunc("GET /api/dual/locations", h.locations)
	mux.HandleFunc("GET /api/dual/hours/{location}", h.hours)
	mux.HandleFunc("POST /api/dual/preview-demand", h.preview)
}

type startBody struct {
	Location  string `json:"location"`
	Date      string `json:"date"`
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Seed      int64  `json:"seed"`
	TickMS    int    `json:"tick_ms"`
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	window := demand.Window{StartHour: body.StartHour, EndHour: body.EndHour}
	if err := window.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.TickMS < 0 {
		writeError(w, http.StatusBadRequest, "tick_ms must not be negative")
		return
	}

	st, err := h.ctl.Start(r.Context(), dual.StartRequest{
		Location: body.Location,
		Window:   window,
		Date:     body.Date,
		Seed:     body.Seed,
		TickMS:   body.TickMS,
	})
	if err != nil {
		h.log.Warnf("start rejected: %v", err)
		var partial *dual.PartialStartFailureError
		switch {
		case errors.Is(err, dual.ErrRunActive):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, scenario.ErrUnknownLocation):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &partial), errors.Is(err, session.ErrStartTimeout):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": st.RunID, "status": st.State})
}

type stopResponse struct {
	Status  string            `json:"status"`
	Summary *model.RunSummary `json:"summary,omitempty"`
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	st, err := h.ctl.Stop(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stopResponse{Status: st.State, Summary: st.Summary})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

func (h *Handler) emergency(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VehicleType string `json:"vehicle_type"`
		EventID     string `json:"event_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.submit(w, perturb.NewEmergency(body.EventID, model.EmergencyClass(body.VehicleType)))
}

func (h *Handler) weather(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Condition string `json:"condition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.submit(w, perturb.NewWeather(model.WeatherCondition(body.Condition)))
}

func (h *Handler) phase(w http.ResponseWriter, r *http.Request) {
	phase, err := strconv.Atoi(r.PathValue("phase"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "phase must be an integer")
		return
	}
	target := model.PhaseTarget(r.URL.Query().Get("target"))
	h.submit(w, perturb.NewPhaseOverride(r.PathValue("junction"), phase, target))
}

// submit pushes one perturbation onto the bus and maps the result. Rejected
// events are reported, never retried.
func (h *Handler) submit(w http.ResponseWriter, ev model.PerturbationEvent) {
	if err := h.bus.Submit(ev); err != nil {
		h.log.Warnf("%s perturbation rejected: %v", ev.Kind, err)
		switch {
		case errors.Is(err, perturb.ErrSessionsNotRunning):
			writeError(w, http.StatusConflict, "sessions_not_running")
		case errors.Is(err, perturb.ErrDuplicateEvent):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": ev.ID})
}

func (h *Handler) locations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"locations": h.catalog.List()})
}

type hourInfo struct {
	Hour            int     `json:"hour"`
	VehiclesPerHour float64 `json:"vehicles_per_hour"`
	Intensity       string  `json:"intensity"`
	CongestionKM    float64 `json:"congestion_km"`
}

func (h *Handler) hours(w http.ResponseWriter, r *http.Request) {
	sc, err := h.catalog.Get(r.PathValue("location"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	data := h.stationFor(sc)
	hours := make([]hourInfo, 0, len(data.Hours))
	for _, hd := range data.Hours {
		hours = append(hours, hourInfo{
			Hour:            hd.Hour,
			VehiclesPerHour: hd.Lambda,
			Intensity:       demand.Intensity(hd.Lambda),
			CongestionKM:    hd.CongestionKM,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"location": sc.ID, "hours": hours})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Location  string `json:"location"`
		StartHour int    `json:"start_hour"`
		EndHour   int    `json:"end_hour"`
		Seed      int64  `json:"seed"`
		Limit     int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sc, err := h.catalog.Get(body.Location)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	window := demand.Window{StartHour: body.StartHour, EndHour: body.EndHour}
	if err := window.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	seed := body.Seed
	if seed == 0 {
		seed = demand.DefaultSeed
	}
	data := h.stationFor(sc)
	sched, err := demand.Generate(demand.Config{
		Scenario:    sc,
		Window:      window,
		Seed:        seed,
		Hourly:      data.WindowDemand(window),
		DivertShare: demand.DefaultDivertShare,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, demand.BuildPreview(sched, data, body.Limit))
}

func (h *Handler) stationFor(sc scenario.Scenario) *demand.StationData {
	if h.store != nil {
		return h.store.Get(sc)
	}
	return demand.Synthetic(sc.ID)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
