package model

// RoadType classifies a road segment.
type RoadType string

const (
	RoadHighway   RoadType = "highway"
	RoadArterial  RoadType = "arterial"
	RoadCollector RoadType = "collector"
	RoadLocal     RoadType = "local"
)

// IntersectionType classifies an intersection.
type IntersectionType string

const (
	IntersectionT          IntersectionType = "t_junction"
	IntersectionFourWay    IntersectionType = "four_way"
	IntersectionRoundabout IntersectionType = "roundabout"
	IntersectionOnRamp     IntersectionType = "on_ramp"
	IntersectionOffRamp    IntersectionType = "off_ramp"
)

// Point is a planar coordinate in image space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RoadSegment is a road between two points.
type RoadSegment struct {
	ID         string   `json:"id"`
	Start      Point    `json:"start"`
	End        Point    `json:"end"`
	Type       RoadType `json:"type"`
	Lanes      int      `json:"lanes"`
	SpeedLimit float64  `json:"speed_limit_kmh"`
	WidthM     float64  `json:"width_m"`
	LengthM    float64  `json:"length_m"`
}

// Intersection joins segments.
type Intersection struct {
	ID       string           `json:"id"`
	Center   Point            `json:"center"`
	Type     IntersectionType `json:"type"`
	Segments []string         `json:"segments"`
}

// RoadNetwork is produced by the image extraction service and only displayed
// here; no simulation logic depends on its contents.
type RoadNetwork struct {
	ID            string         `json:"id"`
	Segments      []RoadSegment  `json:"segments"`
	Intersections []Intersection `json:"intersections"`
}

// NetworkMetrics summarizes a network for display.
type NetworkMetrics struct {
	TotalLengthKm    float64 `json:"total_length_km"`
	TotalLanes       int     `json:"total_lanes"`
	AvgSpeedLimitKmh float64 `json:"avg_speed_limit_kmh"`
	Segments         int     `json:"num_segments"`
	Intersections    int     `json:"num_intersections"`
}

// Metrics computes size and shape figures for the network.
func (n *RoadNetwork) Metrics() NetworkMetrics {
	if n == nil {
		return NetworkMetrics{}
	}
	m := NetworkMetrics{
		Segments:      len(n.Segments),
		Intersections: len(n.Intersections),
	}
	var lengthM, speedSum float64
	for _, seg := range n.Segments {
		lengthM += seg.LengthM
		speedSum += seg.SpeedLimit
		m.TotalLanes += seg.Lanes
	}
	m.TotalLengthKm = lengthM / 1000
	if len(n.Segments) > 0 {
		m.AvgSpeedLimitKmh = speedSum / float64(len(n.Segments))
	}
	return m
}

// DemoNetwork is a single four-way crossing of two arterials, used when no
// extracted network has been loaded.
func DemoNetwork() *RoadNetwork {
	return &RoadNetwork{
		ID: "demo_network",
		Segments: []RoadSegment{
			{ID: "segment_0", Start: Point{0, 0}, End: Point{100, 0}, Type: RoadArterial, Lanes: 2, SpeedLimit: 60, WidthM: 40, LengthM: 100},
			{ID: "segment_1", Start: Point{50, -50}, End: Point{50, 50}, Type: RoadArterial, Lanes: 2, SpeedLimit: 60, WidthM: 40, LengthM: 100},
		},
		Intersections: []Intersection{
			{ID: "intersection_0", Center: Point{50, 0}, Type: IntersectionFourWay, Segments: []string{"segment_0", "segment_1"}},
		},
	}
}
