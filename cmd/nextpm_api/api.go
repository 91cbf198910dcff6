package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/NotCoffee418/nextpm_monitor/pkg/history"
	"github.com/NotCoffee418/nextpm_monitor/pkg/nextpm"
	"github.com/NotCoffee418/nextpm_monitor/pkg/pmutils"
	"github.com/sirupsen/logrus"
)

const maxCommandLength = 64

type sensor interface {
	Status() nextpm.Status
	SendCommand(command string) error
}

type api struct {
	sensor  sensor
	history *history.Store
	log     *logrus.Logger
}

type statusResponse struct {
	nextpm.Status
	Uptime string `json:"uptime,omitempty"`
}

type historyResponse struct {
	Points  []history.Point `json:"points"`
	Summary history.Summary `json:"summary"`
}

type commandRequest struct {
	Command string `json:"command"`
}

// routes mounts everything except /ws and /metrics, main adds those.
func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("/", a.handleIndex)
	mux.HandleFunc("/status", a.handleStatus)
	mux.HandleFunc("/latest", a.handleLatest)
	mux.HandleFunc("/history", a.handleHistory)
	mux.HandleFunc("/aqi", a.handleAQI)
	mux.HandleFunc("/command", a.handleCommand)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *api) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	status := "disconnected"
	if a.sensor.Status().Connected {
		status = "connected"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "NextPM Monitor API",
		"status":  status,
	})
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := a.sensor.Status()
	resp := statusResponse{Status: st}
	if st.Device.UptimeKnown {
		resp.Uptime = pmutils.FormatUptime(st.Device.UptimeMs)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleLatest(w http.ResponseWriter, r *http.Request) {
	device := a.sensor.Status().Device
	if device.LastUpdate.IsZero() {
		writeError(w, http.StatusNotFound, "No readings available yet")
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = v
	}

	points, err := a.history.Recent(n)
	if err != nil {
		a.log.Errorf("Failed to read history: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summary, err := a.history.Summary()
	if err != nil {
		a.log.Errorf("Failed to summarize history: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if points == nil {
		points = []history.Point{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Points: points, Summary: summary})
}

func (a *api) handleAQI(w http.ResponseWriter, r *http.Request) {
	device := a.sensor.Status().Device
	if !device.MassKnown {
		writeError(w, http.StatusNotFound, "No PM2.5 reading available yet")
		return
	}
	writeJSON(w, http.StatusOK, pmutils.CalculateAQI(device.Mass.PM25))
}

// handleCommand sends a custom command without waiting for the reply.
// The reply still reaches /ws and the state cache.
func (a *api) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cmd := strings.TrimSpace(req.Command)
	if cmd == "" || len(cmd) > maxCommandLength || strings.ContainsAny(cmd, "\r\n") {
		writeError(w, http.StatusBadRequest, "command must be a single non-empty line")
		return
	}

	if err := a.sensor.SendCommand(cmd); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, nextpm.ErrNotConnected) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"sent": cmd})
}
