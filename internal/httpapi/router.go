// Package httpapi exposes the pipeline as a small JSON API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescope/internal/device"
	"github.com/srg/blescope/internal/link"
	"github.com/srg/blescope/internal/status"
	"github.com/srg/blescope/internal/telemetry"
)

// Pipeline is the subset of the facade served over HTTP
type Pipeline interface {
	StartScan() error
	StopScan()
	Devices() []device.Peripheral
	Connect(address string) error
	Disconnect()
	Acknowledge()
	Info() link.Info
	ReadSamples(from telemetry.Cursor) telemetry.Page
	DecodeErrors() uint64
	Status() status.Status
	RawTail() []string
}

type handlers struct {
	p      Pipeline
	logger *logrus.Logger
}

// SamplesResponse is the body of GET /samples. Next and Epoch are passed as
// since and epoch on the following poll. Reset reports that the requested
// cursor belonged to an ended session and Samples start over at the current
// one.
type SamplesResponse struct {
	Samples      []telemetry.Sample `json:"samples"`
	Next         uint64             `json:"next"`
	Epoch        uint64             `json:"epoch"`
	Reset        bool               `json:"reset,omitempty"`
	DecodeErrors uint64             `json:"decode_errors"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string             `json:"error"`
	Kind  device.FailureKind `json:"kind,omitempty"`
}

// NewRouter maps the API routes onto p
func NewRouter(p Pipeline, logger *logrus.Logger) *mux.Router {
	if logger == nil {
		logger = logrus.New()
	}
	h := &handlers{p: p, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "OK"); err != nil {
			logger.WithField("error", err).Debug("Failed to write health response")
		}
	}).Methods(http.MethodGet)
	r.HandleFunc("/devices", h.devices).Methods(http.MethodGet)
	r.HandleFunc("/scan", h.startScan).Methods(http.MethodPost)
	r.HandleFunc("/scan", h.stopScan).Methods(http.MethodDelete)
	r.HandleFunc("/connect/{address}", h.connect).Methods(http.MethodPost)
	r.HandleFunc("/disconnect", h.disconnect).Methods(http.MethodPost)
	r.HandleFunc("/acknowledge", h.acknowledge).Methods(http.MethodPost)
	r.HandleFunc("/connection", h.connection).Methods(http.MethodGet)
	r.HandleFunc("/samples", h.samples).Methods(http.MethodGet)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/raw", h.raw).Methods(http.MethodGet)
	r.Use(h.logRequests)
	return r
}

func (h *handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Debug("HTTP request")
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithField("error", err).Warn("Failed to encode HTTP response")
	}
}

// writeError maps pipeline errors onto HTTP status codes
func (h *handlers) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	kind := device.FailureKindOf(err)

	var nf *device.NotFoundError
	switch {
	case errors.As(err, &nf):
		code = http.StatusNotFound
	case kind == device.KindUnauthorized:
		code = http.StatusForbidden
	case kind == device.KindBusy:
		code = http.StatusConflict
	case kind == device.KindAdapterUnavailable:
		code = http.StatusServiceUnavailable
	case kind != "":
		code = http.StatusBadGateway
	}
	h.writeJSON(w, code, ErrorResponse{Error: err.Error(), Kind: kind})
}

func (h *handlers) devices(w http.ResponseWriter, r *http.Request) {
	devices := h.p.Devices()
	if devices == nil {
		devices = []device.Peripheral{}
	}
	h.writeJSON(w, http.StatusOK, devices)
}

func (h *handlers) startScan(w http.ResponseWriter, r *http.Request) {
	if err := h.p.StartScan(); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, h.p.Status())
}

func (h *handlers) stopScan(w http.ResponseWriter, r *http.Request) {
	h.p.StopScan()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) connect(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if err := h.p.Connect(address); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, h.p.Info())
}

func (h *handlers) disconnect(w http.ResponseWriter, r *http.Request) {
	h.p.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) acknowledge(w http.ResponseWriter, r *http.Request) {
	h.p.Acknowledge()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) connection(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.p.Info())
}

func (h *handlers) samples(w http.ResponseWriter, r *http.Request) {
	var from telemetry.Cursor
	for _, param := range []struct {
		name string
		dst  *uint64
	}{
		{"since", &from.Seq},
		{"epoch", &from.Epoch},
	} {
		raw := r.URL.Query().Get(param.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid %s %q", param.name, raw)})
			return
		}
		*param.dst = v
	}

	page := h.p.ReadSamples(from)
	resp := SamplesResponse{
		Samples:      page.Samples,
		Next:         page.Next.Seq,
		Epoch:        page.Next.Epoch,
		Reset:        page.Reset,
		DecodeErrors: h.p.DecodeErrors(),
	}
	if resp.Samples == nil {
		resp.Samples = []telemetry.Sample{}
	}
	if page.Reset {
		h.logger.WithFields(logrus.Fields{
			"since": from.Seq,
			"epoch": from.Epoch,
			"now":   page.Next.Epoch,
		}).Debug("Sample cursor reset to the current session")
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.p.Status())
}

func (h *handlers) raw(w http.ResponseWriter, r *http.Request) {
	lines := h.p.RawTail()
	if lines == nil {
		lines = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"lines": lines})
}
