// Package trajectory derives map-ready GeoJSON from a device's heartbeat
// history: surface track LineStrings, dive LineStrings with markers, and
// the current-position Point.
package trajectory

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"triton/internal/fleet"
)

// DefaultSkewTolerance bounds how far the vehicle clock may drift from
// the server receive time before received_at wins.
const DefaultSkewTolerance = time.Hour

// Options tune one Build call.
type Options struct {
	MID           string
	Detailed      bool
	SkewTolerance time.Duration
}

// Frame is one heartbeat projected down to what the builder inspects.
type Frame struct {
	HBSeq     uint64
	Time      time.Time
	State     string
	Lat, Lon  float64
	DepthM    float64
	ClockSkew bool
	Payload   json.RawMessage
}

// frame payload fields the builder parses; everything else stays opaque.
type framePayload struct {
	State    string `json:"state"`
	Position *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"position"`
	Environment *struct {
		DepthM *float64 `json:"depth_m"`
	} `json:"environment"`
	Power *struct {
		SOC *float64 `json:"soc"`
	} `json:"power"`
	Network *struct {
		RSRPDbm *float64 `json:"rsrp_dbm"`
	} `json:"network"`
	Ext map[string]json.RawMessage `json:"-"`
}

// Build derives the FeatureCollection for one device window. Heartbeats
// must be ordered ascending by hb_seq; dives ascending by id.
func Build(hbs []fleet.Heartbeat, dives []fleet.Dive, opts Options) (FeatureCollection, error) {
	fc := FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
	c := &collector{}
	stats, err := build(c, hbs, dives, opts)
	if err != nil {
		return fc, err
	}
	if c.features != nil {
		fc.Features = c.features
	}
	if opts.Detailed {
		fc.Statistics = stats
	}
	return fc, nil
}

type segment struct {
	diveIdx int // -1 for surface
	frames  []Frame
}

func build(sink FeatureSink, hbs []fleet.Heartbeat, dives []fleet.Dive, opts Options) (*Statistics, error) {
	tol := opts.SkewTolerance
	if tol <= 0 {
		tol = DefaultSkewTolerance
	}

	stats := &Statistics{}
	var (
		segments []segment
		current  segment
		socs     []float64
		rsrps    []float64
		temps    []float64
		depths   []float64
		prev     *Frame
	)
	current.diveIdx = -1

	flush := func() {
		if len(current.frames) == 0 {
			return
		}
		// A 1-frame segment would be an unrenderable LineString; fold it
		// into its neighbor instead of emitting it.
		if len(segments) > 0 && len(current.frames) == 1 {
			last := &segments[len(segments)-1]
			last.frames = append(last.frames, current.frames[0])
			current = segment{diveIdx: -1}
			return
		}
		segments = append(segments, current)
		current = segment{diveIdx: -1}
	}

	for _, hb := range hbs {
		f, ok, err := parseFrame(hb, tol, opts.Detailed)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		idx := diveIndex(dives, f.Time)
		if len(current.frames) > 0 && idx != current.diveIdx {
			// Merge a would-be 1-frame segment forward into this one.
			if len(current.frames) == 1 && len(segments) == 0 {
				current.diveIdx = idx
			} else {
				flush()
				current.diveIdx = idx
			}
		} else {
			current.diveIdx = idx
		}
		current.frames = append(current.frames, f)

		stats.PointCount++
		if prev != nil {
			stats.TotalDistanceM += haversineM(prev.Lat, prev.Lon, f.Lat, f.Lon)
		}
		prevCopy := f
		prev = &prevCopy

		depths = append(depths, f.DepthM)
		p, err2 := parsedSensors(hb)
		if err2 == nil {
			if p.Power != nil && p.Power.SOC != nil {
				socs = append(socs, *p.Power.SOC)
			}
			if p.Network != nil && p.Network.RSRPDbm != nil {
				rsrps = append(rsrps, *p.Network.RSRPDbm)
			}
		}
		var env struct {
			Environment *struct {
				WaterTempC *float64 `json:"water_temp_c"`
			} `json:"environment"`
		}
		if json.Unmarshal(hb.Payload, &env) == nil && env.Environment != nil && env.Environment.WaterTempC != nil {
			temps = append(temps, *env.Environment.WaterTempC)
		}
	}
	flush()
	// The trailing segment may still be 1 frame; fold it backwards.
	if n := len(segments); n >= 2 && len(segments[n-1].frames) == 1 {
		segments[n-2].frames = append(segments[n-2].frames, segments[n-1].frames[0])
		segments = segments[:n-1]
	}

	emitSegments(sink, segments, dives, opts.MID)
	emitDives(sink, segments, dives, opts.MID)

	if last := lastFrame(segments); last != nil {
		sink.Emit(feature(point(coord(*last)), map[string]any{
			"type":      "current",
			"mid":       opts.MID,
			"timestamp": last.Time.UTC().Format(time.RFC3339),
			"state":     last.State,
		}))
	}

	if opts.Detailed {
		emitDetailed(sink, segments, opts.MID)
	}

	stats.AvgDepthM = avg(depths)
	stats.MaxDepthM = maxOf(depths)
	stats.AvgBatterySOC = avg(socs)
	stats.AvgRSRPDbm = avg(rsrps)
	stats.MinRSRPDbm = minOf(rsrps)
	stats.MaxRSRPDbm = maxOf(rsrps)
	stats.AvgWaterTempC = avg(temps)
	return stats, nil
}

// parseFrame projects one heartbeat row. Frames without a usable position
// (absent, or the (0,0) no-fix sentinel) are dropped.
func parseFrame(hb fleet.Heartbeat, tol time.Duration, keepPayload bool) (Frame, bool, error) {
	var p framePayload
	if err := json.Unmarshal(hb.Payload, &p); err != nil {
		return Frame{}, false, fmt.Errorf("parse heartbeat %d payload: %w", hb.ID, err)
	}
	if p.Position == nil || (p.Position.Lat == 0 && p.Position.Lon == 0) {
		return Frame{}, false, nil
	}

	f := Frame{
		HBSeq: hb.HBSeq,
		State: p.State,
		Lat:   p.Position.Lat,
		Lon:   p.Position.Lon,
	}
	if p.Environment != nil && p.Environment.DepthM != nil {
		f.DepthM = *p.Environment.DepthM
	}

	// The vehicle clock is authoritative unless it disagrees with the
	// server receive time beyond tolerance.
	f.Time = hb.TsUTC
	if !hb.ReceivedAt.IsZero() {
		skew := hb.TsUTC.Sub(hb.ReceivedAt)
		if skew > tol || skew < -tol {
			f.Time = hb.ReceivedAt
			f.ClockSkew = true
		}
	}
	if keepPayload {
		f.Payload = hb.Payload
	}
	return f, true, nil
}

func parsedSensors(hb fleet.Heartbeat) (framePayload, error) {
	var p framePayload
	err := json.Unmarshal(hb.Payload, &p)
	return p, err
}

// diveIndex returns which dive window contains t, or -1 for surface.
func diveIndex(dives []fleet.Dive, t time.Time) int {
	for i, d := range dives {
		if d.StartedAt == nil || d.EndedAt == nil {
			continue
		}
		if !t.Before(*d.StartedAt) && !t.After(*d.EndedAt) {
			return i
		}
	}
	return -1
}

func emitSegments(sink FeatureSink, segments []segment, dives []fleet.Dive, mid string) {
	idx := 0
	for _, seg := range segments {
		if seg.diveIdx >= 0 || len(seg.frames) < 2 {
			continue
		}
		props := map[string]any{
			"type":          "trajectory",
			"mid":           mid,
			"segment_index": idx,
			"start_time":    seg.frames[0].Time.UTC().Format(time.RFC3339),
			"end_time":      seg.frames[len(seg.frames)-1].Time.UTC().Format(time.RFC3339),
		}
		if segSkewed(seg) {
			props["clock_skew"] = true
		}
		sink.Emit(feature(lineString(coords(seg.frames)), props))
		idx++
	}
}

// emitDives produces one LineString and a start/end marker pair per dive
// row. A dive whose window holds no frames is rendered from the frames
// bracketing it on the surface track.
func emitDives(sink FeatureSink, segments []segment, dives []fleet.Dive, mid string) {
	for i, d := range dives {
		frames := diveFrames(segments, i)
		if len(frames) == 0 {
			frames = bracketFrames(segments, d)
		}
		if len(frames) == 0 {
			continue
		}

		props := map[string]any{
			"type":    "dive",
			"mid":     mid,
			"dive_id": d.ID,
			"cmd_seq": d.CmdSeq,
		}
		if d.StartedAt != nil {
			props["started_at"] = d.StartedAt.UTC().Format(time.RFC3339)
		}
		var s struct {
			MaxDepthM *float64 `json:"max_depth_m"`
			DurationS *float64 `json:"duration_s"`
		}
		if len(d.Summary) > 0 && json.Unmarshal(d.Summary, &s) == nil {
			if s.MaxDepthM != nil {
				props["max_depth_m"] = *s.MaxDepthM
			}
			if s.DurationS != nil {
				props["duration_s"] = *s.DurationS
			}
		}

		line := coords(frames)
		if len(line) == 1 {
			line = append(line, line[0])
		}
		sink.Emit(feature(lineString(line), props))

		for _, m := range []struct {
			kind  string
			frame Frame
		}{
			{"start", frames[0]},
			{"end", frames[len(frames)-1]},
		} {
			sink.Emit(feature(point(coord(m.frame)), map[string]any{
				"type":        "dive_marker",
				"marker_type": m.kind,
				"mid":         mid,
				"dive_id":     d.ID,
				"timestamp":   m.frame.Time.UTC().Format(time.RFC3339),
			}))
		}
	}
}

func emitDetailed(sink FeatureSink, segments []segment, mid string) {
	for _, seg := range segments {
		for _, f := range seg.frames {
			props := map[string]any{
				"mid":       mid,
				"hb_seq":    f.HBSeq,
				"state":     f.State,
				"timestamp": f.Time.UTC().Format(time.RFC3339),
			}
			if f.ClockSkew {
				props["clock_skew"] = true
			}
			var flat map[string]any
			if len(f.Payload) > 0 && json.Unmarshal(f.Payload, &flat) == nil {
				for k, v := range flat {
					if _, taken := props[k]; !taken {
						props[k] = v
					}
				}
			}
			sink.Emit(feature(point(coord(f)), props))
		}
	}
}

func diveFrames(segments []segment, diveIdx int) []Frame {
	var out []Frame
	for _, seg := range segments {
		if seg.diveIdx == diveIdx {
			out = append(out, seg.frames...)
		}
	}
	return out
}

// bracketFrames finds the last frame before the dive window and the first
// after it.
func bracketFrames(segments []segment, d fleet.Dive) []Frame {
	if d.StartedAt == nil || d.EndedAt == nil {
		return nil
	}
	var before, after *Frame
	for _, seg := range segments {
		for i := range seg.frames {
			f := seg.frames[i]
			if f.Time.Before(*d.StartedAt) {
				cp := f
				before = &cp
			}
			if f.Time.After(*d.EndedAt) && after == nil {
				cp := f
				after = &cp
			}
		}
	}
	var out []Frame
	if before != nil {
		out = append(out, *before)
	}
	if after != nil {
		out = append(out, *after)
	}
	return out
}

func lastFrame(segments []segment) *Frame {
	if len(segments) == 0 {
		return nil
	}
	seg := segments[len(segments)-1]
	if len(seg.frames) == 0 {
		return nil
	}
	f := seg.frames[len(seg.frames)-1]
	return &f
}

func segSkewed(seg segment) bool {
	for _, f := range seg.frames {
		if f.ClockSkew {
			return true
		}
	}
	return false
}

func coord(f Frame) []float64 {
	return []float64{f.Lon, f.Lat, f.DepthM}
}

func coords(frames []Frame) [][]float64 {
	out := make([][]float64, len(frames))
	for i, f := range frames {
		out[i] = coord(f)
	}
	return out
}

// haversineM is the great-circle distance in meters.
func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusM = 6371000
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func avg(vs []float64) *float64 {
	if len(vs) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	m := sum / float64(len(vs))
	return &m
}

func minOf(vs []float64) *float64 {
	if len(vs) == 0 {
		return nil
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return &m
}

func maxOf(vs []float64) *float64 {
	if len(vs) == 0 {
		return nil
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return &m
}
