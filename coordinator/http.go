package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/tabvol/kit"
	"github.com/hazyhaar/tabvol/shield"
	"github.com/hazyhaar/tabvol/volstore"
)

// TabHeader carries the sender tab id on POST /api/message.
const TabHeader = "X-Tabvol-Tab"

// volumeBody is the body of POST /api/tabs/{id}/volume.
type volumeBody struct {
	Volume *float64 `json:"volume"`
	Commit bool     `json:"commit"`
}

// RegisterHTTP mounts the control surface on r.
func (c *Coordinator) RegisterHTTP(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/tabs", c.handleListTabs)
		r.Get("/tabs/{id}/probe", c.handleProbe)
		r.Post("/tabs/{id}/volume", c.handleVolume)
		r.Post("/tabs/{id}/mute", c.handleMute)
		r.Get("/volumes", c.handleVolumes)
		r.Post("/message", c.handleMessage)
	})
}

// Routes returns a router holding only the control surface.
func (c *Coordinator) Routes() http.Handler {
	r := chi.NewRouter()
	c.RegisterHTTP(r)
	return r
}

// GET /api/tabs
func (c *Coordinator) handleListTabs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.ListMediaTabs(r.Context()))
}

// GET /api/tabs/{id}/probe
func (c *Coordinator) handleProbe(w http.ResponseWriter, r *http.Request) {
	id, err := tabParam(r)
	if err != nil {
		fail(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, c.ProbeMedia(r.Context(), id))
}

// POST /api/tabs/{id}/volume
func (c *Coordinator) handleVolume(w http.ResponseWriter, r *http.Request) {
	id, err := tabParam(r)
	if err != nil {
		fail(w, r, http.StatusBadRequest, err)
		return
	}
	var body volumeBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
		fail(w, r, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if body.Volume == nil {
		fail(w, r, http.StatusBadRequest, errors.New("volume required"))
		return
	}

	var req Request = SetVolume{TabID: id, Volume: *body.Volume}
	if body.Commit {
		req = CommitVolume{TabID: id, Volume: *body.Volume}
	}
	resp, err := c.Handle(r.Context(), Sender{}, req)
	if err != nil {
		fail(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/tabs/{id}/mute
func (c *Coordinator) handleMute(w http.ResponseWriter, r *http.Request) {
	id, err := tabParam(r)
	if err != nil {
		fail(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := c.Handle(r.Context(), Sender{}, ToggleMute{TabID: id})
	if err != nil {
		fail(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/volumes
func (c *Coordinator) handleVolumes(w http.ResponseWriter, r *http.Request) {
	v, err := c.Volumes(r.Context())
	if err != nil {
		fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// POST /api/message takes a raw request envelope, {"action": "...", ...}.
func (c *Coordinator) handleMessage(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		fail(w, r, http.StatusBadRequest, err)
		return
	}
	req, err := DecodeRequest(data)
	if err != nil {
		fail(w, r, http.StatusBadRequest, err)
		return
	}

	var from Sender
	if h := r.Header.Get(TabHeader); h != "" {
		id, err := strconv.Atoi(h)
		if err != nil || id <= 0 {
			fail(w, r, http.StatusBadRequest, fmt.Errorf("invalid %s header", TabHeader))
			return
		}
		from.TabID = id
	}
	ctx := kit.WithTransport(r.Context(), "http")
	if from.TabID > 0 {
		ctx = kit.WithTabID(ctx, from.TabID)
	}

	resp, err := c.Handle(ctx, from, req)
	if err != nil {
		fail(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func tabParam(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid tab id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, volstore.ErrInvalidVolume), errors.Is(err, ErrUnknownRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// fail logs err on the request logger and writes it as a JSON error.
func fail(w http.ResponseWriter, r *http.Request, code int, err error) {
	log := shield.GetLogger(r.Context())
	if code >= http.StatusInternalServerError {
		log.Warn("coordinator: request failed", "status", code, "error", err)
	} else {
		log.Debug("coordinator: request rejected", "status", code, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
