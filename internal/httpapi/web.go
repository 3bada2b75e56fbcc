package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"triton/internal/clockcheck"
	"triton/internal/fleet"
	"triton/internal/store"
	"triton/internal/trajectory"
	"triton/pkg/api"

	"github.com/go-chi/chi/v5"
)

// --- Devices ---

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, fleet.Validationf("limit", "must be a positive integer"))
			return
		}
		if n > maxPageLimit {
			n = maxPageLimit
		}
		limit = n
	}

	// Devices are keyed and paged by mid, not by row id.
	afterMID := ""
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		dec, err := base64.URLEncoding.DecodeString(raw)
		if err != nil {
			writeError(w, r, fleet.Validationf("cursor", "is not valid"))
			return
		}
		afterMID = string(dec)
	}

	devices, err := h.Store.ListDevices(r.Context(), store.DeviceFilter{
		State:    r.URL.Query().Get("state"),
		AfterMID: afterMID,
		Limit:    limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := h.now()
	page := api.Page[api.DeviceView]{Items: make([]api.DeviceView, 0, len(devices))}
	for _, d := range devices {
		page.Items = append(page.Items, deviceView(d, now))
	}
	if len(devices) == limit {
		page.NextCursor = base64.URLEncoding.EncodeToString([]byte(devices[len(devices)-1].MID))
	}
	writeJSON(w, r, http.StatusOK, page)
}

func (h *Handler) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.Store.Device(r.Context(), chi.URLParam(r, "mid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, deviceView(d, h.now()))
}

func (h *Handler) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	d, err := h.Store.Device(r.Context(), chi.URLParam(r, "mid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, deviceStatusView(d, h.now()))
}

// --- Commands ---

func (h *Handler) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueCommandRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.MID == "" {
		writeError(w, r, fleet.Validationf("mid", "is required"))
		return
	}
	if fleet.CommandKind(req.Cmd) != fleet.KindRunDive {
		writeError(w, r, fleet.Validationf("cmd", "must be RUN_DIVE"))
		return
	}
	if req.Args.TargetDepthM <= 0 {
		writeError(w, r, fleet.Validationf("args.target_depth_m", "must be positive"))
		return
	}
	if req.Args.HoldAtDepthS < 0 {
		writeError(w, r, fleet.Validationf("args.hold_at_depth_s", "must not be negative"))
		return
	}
	if req.Args.Cycles <= 0 {
		req.Args.Cycles = 1
	}

	args, err := json.Marshal(req.Args)
	if err != nil {
		writeError(w, r, err)
		return
	}
	planHash, err := fleet.PlanHash(fleet.KindRunDive, args)
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := h.now()
	issuedBy := r.Header.Get("X-Operator")

	var cmd fleet.Command
	err = h.Store.WithTx(r.Context(), func(tx *store.Tx) error {
		// Commands are only accepted for devices that have checked in.
		if _, err := tx.Device(r.Context(), req.MID); err != nil {
			return err
		}
		cmd, err = tx.EnqueueCommand(r.Context(), req.MID, fleet.KindRunDive, args, planHash, issuedBy, now)
		if err != nil {
			return err
		}
		return tx.AppendEvent(r.Context(), req.MID, fleet.EventCommandQueued, map[string]any{
			"cmd_seq":   cmd.Seq,
			"cmd":       cmd.Cmd,
			"plan_hash": planHash,
			"issued_by": issuedBy,
		}, now)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, commandView(cmd))
}

func (h *Handler) handleListCommands(w http.ResponseWriter, r *http.Request) {
	limit, afterID, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("status"); raw != "" && !fleet.ValidStatus(raw) {
		writeError(w, r, fleet.Validationf("status", "is not a command status"))
		return
	}

	cmds, err := h.Store.ListCommands(r.Context(), store.CommandFilter{
		MID:     r.URL.Query().Get("mid"),
		Status:  fleet.CommandStatus(r.URL.Query().Get("status")),
		From:    from,
		To:      to,
		AfterID: afterID,
		Limit:   limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	page := api.Page[api.CommandView]{Items: make([]api.CommandView, 0, len(cmds))}
	for _, c := range cmds {
		page.Items = append(page.Items, commandView(c))
	}
	if len(cmds) == limit {
		last := cmds[len(cmds)-1]
		page.NextCursor = cursor{ID: last.ID, CreatedAt: last.CreatedAt}.Encode()
	}
	writeJSON(w, r, http.StatusOK, page)
}

func (h *Handler) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, fleet.Validationf("id", "must be an integer"))
		return
	}
	cmd, err := h.Store.CommandByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, commandView(cmd))
}

// --- Telemetry ---

func (h *Handler) handleLatestTelemetry(w http.ResponseWriter, r *http.Request) {
	hb, err := h.Store.LatestHeartbeat(r.Context(), chi.URLParam(r, "mid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, heartbeatView(hb))
}

func (h *Handler) handleListHeartbeats(w http.ResponseWriter, r *http.Request) {
	limit, afterID, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	hbs, err := h.Store.ListHeartbeats(r.Context(), store.HeartbeatFilter{
		MID:     r.URL.Query().Get("mid"),
		From:    from,
		To:      to,
		AfterID: afterID,
		Limit:   limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	page := api.Page[api.HeartbeatView]{Items: make([]api.HeartbeatView, 0, len(hbs))}
	for _, hb := range hbs {
		page.Items = append(page.Items, heartbeatView(hb))
	}
	if len(hbs) == limit {
		last := hbs[len(hbs)-1]
		page.NextCursor = cursor{ID: last.ID, CreatedAt: last.ReceivedAt}.Encode()
	}
	writeJSON(w, r, http.StatusOK, page)
}

func (h *Handler) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	mid := chi.URLParam(r, "mid")

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "geojson"
	}
	if format != "geojson" && format != "detailed" {
		writeError(w, r, fleet.Validationf("format", "must be geojson or detailed"))
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The device must exist even when it has no frames in the window.
	if _, err := h.Store.Device(r.Context(), mid); err != nil {
		writeError(w, r, err)
		return
	}

	hbs, err := h.Store.HeartbeatsAscending(r.Context(), mid, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dives, err := h.Store.DivesAscending(r.Context(), mid)
	if err != nil {
		writeError(w, r, err)
		return
	}

	fc, err := trajectory.Build(hbs, dives, trajectory.Options{
		MID:      mid,
		Detailed: format == "detailed",
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, fc)
}

// --- Dives ---

func (h *Handler) handleListDives(w http.ResponseWriter, r *http.Request) {
	limit, afterID, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var ok *bool
	if raw := r.URL.Query().Get("ok"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, fleet.Validationf("ok", "must be a boolean"))
			return
		}
		ok = &b
	}

	dives, err := h.Store.ListDives(r.Context(), store.DiveFilter{
		MID:     r.URL.Query().Get("mid"),
		OK:      ok,
		From:    from,
		To:      to,
		AfterID: afterID,
		Limit:   limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	page := api.Page[api.DiveView]{Items: make([]api.DiveView, 0, len(dives))}
	for _, d := range dives {
		page.Items = append(page.Items, diveView(d))
	}
	if len(dives) == limit {
		last := dives[len(dives)-1]
		page.NextCursor = cursor{ID: last.ID, CreatedAt: last.CreatedAt}.Encode()
	}
	writeJSON(w, r, http.StatusOK, page)
}

func (h *Handler) handleGetDive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, fleet.Validationf("id", "must be an integer"))
		return
	}
	d, err := h.Store.DiveByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, diveView(d))
}

// --- Events ---

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, afterID, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	events, err := h.Store.ListEvents(r.Context(), store.EventFilter{
		MID:     r.URL.Query().Get("mid"),
		Type:    r.URL.Query().Get("type"),
		From:    from,
		To:      to,
		AfterID: afterID,
		Limit:   limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	page := api.Page[api.EventView]{Items: make([]api.EventView, 0, len(events))}
	for _, e := range events {
		page.Items = append(page.Items, eventView(e))
	}
	if len(events) == limit {
		last := events[len(events)-1]
		page.NextCursor = cursor{ID: last.ID, CreatedAt: last.CreatedAt}.Encode()
	}
	writeJSON(w, r, http.StatusOK, page)
}

// --- Health and admin ---

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{Status: "ok", DB: true}
	if err := h.Store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.DB = false
	}
	if h.ClockCheck != nil {
		st := h.ClockCheck.Status()
		resp.Clock = st.Phase.String()
		if st.Phase == clockcheck.UnhealthyOffset || st.Phase == clockcheck.Error {
			resp.Status = "degraded"
		}
	}
	status := http.StatusOK
	if !resp.DB {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

func (h *Handler) handleResetDB(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, api.ResetResponse{Message: "database reset"})
}
