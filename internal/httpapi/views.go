package httpapi

import (
	"encoding/json"
	"time"

	"triton/internal/fleet"
	"triton/pkg/api"
)

func deviceView(d fleet.Device, now time.Time) api.DeviceView {
	v := api.DeviceView{
		MID:            d.MID,
		FW:             d.FW,
		State:          d.LastState,
		LastHBSeq:      d.LastHBSeq,
		LastSeenAt:     d.LastSeenAt,
		LastExecCmdSeq: d.LastExecCmdSeq,
		LastExecStatus: d.LastExecStatus,
		Online:         now.Sub(d.LastSeenAt) <= onlineThreshold,
	}
	unmarshalInto(d.LastPos, &v.Position)
	unmarshalInto(d.LastPwr, &v.Power)
	unmarshalInto(d.LastEnv, &v.Environment)
	unmarshalInto(d.LastNet, &v.Network)
	return v
}

// unmarshalInto decodes raw into a freshly allocated *T, leaving the
// target nil when raw is absent or malformed.
func unmarshalInto[T any](raw json.RawMessage, target **T) {
	if len(raw) == 0 {
		return
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return
	}
	*target = out
}

func deviceStatusView(d fleet.Device, now time.Time) api.DeviceStatusView {
	return api.DeviceStatusView{
		MID:        d.MID,
		State:      d.LastState,
		Online:     now.Sub(d.LastSeenAt) <= onlineThreshold,
		LastSeenAt: d.LastSeenAt,
		ExecStatus: d.LastExecStatus,
	}
}

func commandView(c fleet.Command) api.CommandView {
	return api.CommandView{
		ID:        c.ID,
		MID:       c.MID,
		Seq:       c.Seq,
		Cmd:       string(c.Cmd),
		Args:      c.Args,
		PlanHash:  c.PlanHash,
		Status:    string(c.Status),
		IssuedBy:  c.IssuedBy,
		CreatedAt: c.CreatedAt,
		IssuedAt:  c.IssuedAt,
	}
}

func heartbeatView(hb fleet.Heartbeat) api.HeartbeatView {
	var p struct {
		State string `json:"state"`
	}
	_ = json.Unmarshal(hb.Payload, &p)
	return api.HeartbeatView{
		ID:         hb.ID,
		MID:        hb.MID,
		HBSeq:      hb.HBSeq,
		TsUTC:      hb.TsUTC,
		State:      p.State,
		Payload:    hb.Payload,
		ReceivedAt: hb.ReceivedAt,
	}
}

func diveView(d fleet.Dive) api.DiveView {
	return api.DiveView{
		ID:        d.ID,
		MID:       d.MID,
		CmdSeq:    d.CmdSeq,
		OK:        d.OK,
		Summary:   d.Summary,
		StartedAt: d.StartedAt,
		EndedAt:   d.EndedAt,
		CreatedAt: d.CreatedAt,
	}
}

func eventView(e fleet.Event) api.EventView {
	return api.EventView{
		ID:        e.ID,
		MID:       e.MID,
		Type:      e.Type,
		Detail:    e.Detail,
		CreatedAt: e.CreatedAt,
	}
}
