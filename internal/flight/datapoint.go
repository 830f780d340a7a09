package flight

import "time"

// Location is a WGS-84 coordinate pair in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DataPoint is one decoded telemetry sample. Optional fields are pointers so
// that "not reported" is distinguishable from a legitimate zero reading.
type DataPoint struct {
	OffsetMs int64 `json:"offsetMs"` // milliseconds since flight start

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"` // meters above takeoff
	Speed     *float64 `json:"speed,omitempty"`    // m/s
	Heading   *float64 `json:"heading,omitempty"`  // degrees
	Gimbal    *float64 `json:"gimbalPitch,omitempty"`

	BatteryPercent *int     `json:"batteryPercent,omitempty"`
	Satellites     *int     `json:"satellites,omitempty"`
	Signal         *int     `json:"signal,omitempty"`
	BatteryVoltage *float64 `json:"batteryVoltage,omitempty"` // volts
	BatteryCurrent *float64 `json:"batteryCurrent,omitempty"` // amps, negative while charging
	BatteryTemp    *float64 `json:"batteryTemp,omitempty"`    // degrees C
	CellVoltages   []float64 `json:"cellVoltages,omitempty"`  // volts per cell

	IsPhoto bool `json:"isPhoto"`
	IsVideo bool `json:"isVideo"`

	// PhotoFilename is set on points synthesized from photo-marker records.
	// Frequently empty even when a photo was taken.
	PhotoFilename string `json:"photoFilename,omitempty"`
	PhotoIndex    *int   `json:"photoIndex,omitempty"`
}

// Fix returns the point's location when both coordinates are present.
func (p *DataPoint) Fix() (Location, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return Location{}, false
	}
	return Location{Latitude: *p.Latitude, Longitude: *p.Longitude}, true
}

// Summary is the per-flight reduction of the data-point sequence. Optional
// fields stay nil when the flight produced no usable reading for them; they
// are never defaulted to zero or to the origin.
type Summary struct {
	Filename  string     `json:"filename,omitempty"`
	StartTime *time.Time `json:"startTime,omitempty"`

	DurationSeconds float64 `json:"durationSeconds"`

	MaxAltitude   *float64 `json:"maxAltitude,omitempty"`
	MaxSpeed      *float64 `json:"maxSpeed,omitempty"`
	TotalDistance *float64 `json:"totalDistance,omitempty"` // meters along track
	MaxDistance   *float64 `json:"maxDistance,omitempty"`   // meters from home

	HomeLocation  *Location `json:"homeLocation,omitempty"`
	StartLocation *Location `json:"startLocation,omitempty"`
	EndLocation   *Location `json:"endLocation,omitempty"`

	BatteryStart *int `json:"batteryStart,omitempty"`
	BatteryEnd   *int `json:"batteryEnd,omitempty"`

	DataPoints int  `json:"dataPoints"`
	Photos     int  `json:"photos"`
	Partial    bool `json:"partial,omitempty"` // set when cross-checks could not confirm the decode

	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
}
