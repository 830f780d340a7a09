package flight

// Aggregator reduces an ordered data-point sequence to a Summary in a single
// forward pass. It keeps no reference to the points it has seen; callers that
// need the full sequence buffer it themselves.
type Aggregator struct {
	count  int
	photos int

	firstOffset int64
	lastOffset  int64
	haveOffset  bool

	maxAltitude *float64
	maxSpeed    *float64

	home    *Location
	lastFix *Location
	totalM  float64
	maxM    float64
	fixes   int

	batteryStart *int
	batteryEnd   *int
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add folds one data point into the running accumulators. Points must arrive
// in non-decreasing timestamp order.
func (a *Aggregator) Add(p DataPoint) {
	a.count++
	if !a.haveOffset {
		a.firstOffset = p.OffsetMs
		a.haveOffset = true
	}
	a.lastOffset = p.OffsetMs

	if p.Altitude != nil && (a.maxAltitude == nil || *p.Altitude > *a.maxAltitude) {
		v := *p.Altitude
		a.maxAltitude = &v
	}
	if p.Speed != nil && (a.maxSpeed == nil || *p.Speed > *a.maxSpeed) {
		v := *p.Speed
		a.maxSpeed = &v
	}
	if p.BatteryPercent != nil {
		v := *p.BatteryPercent
		if a.batteryStart == nil {
			a.batteryStart = &v
		}
		a.batteryEnd = &v
	}
	// Only marker points count as captures; the telemetry shutter flag is
	// level-triggered and would double-count alongside the marker.
	if p.PhotoIndex != nil {
		a.photos++
	}

	fix, ok := p.Fix()
	if !ok {
		// Missing coordinates are skipped, not treated as zero distance.
		return
	}
	a.fixes++
	if a.home == nil {
		h := fix
		a.home = &h
	}
	if a.lastFix != nil {
		a.totalM += Haversine(*a.lastFix, fix)
	}
	if d := Haversine(*a.home, fix); d > a.maxM {
		a.maxM = d
	}
	f := fix
	a.lastFix = &f
}

// Finalize produces the summary plus any aggregate-level warnings. The
// aggregator must not be reused afterwards.
func (a *Aggregator) Finalize() (Summary, []string) {
	var warnings []string
	s := Summary{
		DataPoints:  a.count,
		Photos:      a.photos,
		MaxAltitude: a.maxAltitude,
		MaxSpeed:    a.maxSpeed,
	}
	if a.haveOffset {
		s.DurationSeconds = float64(a.lastOffset-a.firstOffset) / 1000
		if a.lastOffset <= a.firstOffset {
			warnings = append(warnings, "non-monotonic or zero-duration flight")
		}
	}
	if a.home != nil {
		s.HomeLocation = a.home
		s.StartLocation = a.home
	}
	// With fewer than two fixes there is no track: distance and end location
	// stay absent rather than zero.
	if a.fixes >= 2 {
		total := a.totalM
		max := a.maxM
		s.TotalDistance = &total
		s.MaxDistance = &max
		s.EndLocation = a.lastFix
	}
	s.BatteryStart = a.batteryStart
	s.BatteryEnd = a.batteryEnd
	return s, warnings
}
