package trajectory

// Minimal GeoJSON output model. Only the two geometry kinds the UI
// renders exist here; coordinates are [lon, lat] or [lon, lat, depth].
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

func point(coord []float64) Geometry {
	return Geometry{Type: "Point", Coordinates: coord}
}

func lineString(coords [][]float64) Geometry {
	return Geometry{Type: "LineString", Coordinates: coords}
}

type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

func feature(g Geometry, props map[string]any) Feature {
	return Feature{Type: "Feature", Geometry: g, Properties: props}
}

// FeatureCollection is the builder's output. Statistics is a foreign
// member carried only by the detailed format.
type FeatureCollection struct {
	Type       string      `json:"type"`
	Features   []Feature   `json:"features"`
	Statistics *Statistics `json:"statistics,omitempty"`
}

// Statistics aggregates the window's sensor readings.
type Statistics struct {
	PointCount     int      `json:"point_count"`
	TotalDistanceM float64  `json:"total_distance_m"`
	AvgDepthM      *float64 `json:"avg_depth_m,omitempty"`
	MaxDepthM      *float64 `json:"max_depth_m,omitempty"`
	AvgBatterySOC  *float64 `json:"avg_battery_soc,omitempty"`
	AvgRSRPDbm     *float64 `json:"avg_rsrp_dbm,omitempty"`
	MinRSRPDbm     *float64 `json:"min_rsrp_dbm,omitempty"`
	MaxRSRPDbm     *float64 `json:"max_rsrp_dbm,omitempty"`
	AvgWaterTempC  *float64 `json:"avg_water_temp_c,omitempty"`
}

// FeatureSink receives features as the builder derives them.
type FeatureSink interface {
	Emit(Feature)
}

type collector struct {
	features []Feature
}

func (c *collector) Emit(f Feature) { c.features = append(c.features, f) }
