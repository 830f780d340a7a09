package flight

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }
func i(v int) *int           { return &v }

func fixPoint(offsetMs int64, lat, lon float64) DataPoint {
	return DataPoint{OffsetMs: offsetMs, Latitude: f64(lat), Longitude: f64(lon)}
}

func TestHaversine(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Location
		wantM float64
	}{
		{
			name:  "identical points",
			a:     Location{Latitude: 37, Longitude: -122},
			b:     Location{Latitude: 37, Longitude: -122},
			wantM: 0,
		},
		{
			name:  "one millidegree of latitude",
			a:     Location{Latitude: 37, Longitude: -122},
			b:     Location{Latitude: 37.001, Longitude: -122},
			wantM: 111.2,
		},
		{
			name:  "quarter of a great circle",
			a:     Location{Latitude: 0, Longitude: 0},
			b:     Location{Latitude: 0, Longitude: 90},
			wantM: math.Pi / 2 * 6_371_000,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Haversine(tc.a, tc.b)
			if tc.wantM == 0 {
				assert.Equal(t, 0.0, got)
				return
			}
			assert.InEpsilon(t, tc.wantM, got, 0.01)
		})
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := Location{Latitude: 37.4221234, Longitude: -122.0841}
	b := Location{Latitude: 37.5, Longitude: -122.2}
	assert.Equal(t, Haversine(a, b), Haversine(b, a))
}

func TestAggregatorFullFlight(t *testing.T) {
	agg := NewAggregator()
	points := []DataPoint{
		{OffsetMs: 0, Latitude: f64(37.0), Longitude: f64(-122.0), Altitude: f64(10), Speed: f64(5), BatteryPercent: i(100)},
		{OffsetMs: 1000, Latitude: f64(37.001), Longitude: f64(-122.0), Altitude: f64(25.5), Speed: f64(7.5), BatteryPercent: i(95)},
		{OffsetMs: 1500, IsPhoto: true, PhotoIndex: i(1)},
		{OffsetMs: 2000, Latitude: f64(37.002), Longitude: f64(-122.0), Altitude: f64(40), Speed: f64(0), BatteryPercent: i(90)},
	}
	for _, p := range points {
		agg.Add(p)
	}
	s, warnings := agg.Finalize()

	assert.Empty(t, warnings)
	assert.Equal(t, 4, s.DataPoints)
	assert.Equal(t, 1, s.Photos)
	assert.Equal(t, 2.0, s.DurationSeconds)

	require.NotNil(t, s.MaxAltitude)
	assert.Equal(t, 40.0, *s.MaxAltitude)
	require.NotNil(t, s.MaxSpeed)
	assert.Equal(t, 7.5, *s.MaxSpeed)

	require.NotNil(t, s.BatteryStart)
	require.NotNil(t, s.BatteryEnd)
	assert.Equal(t, 100, *s.BatteryStart)
	assert.Equal(t, 90, *s.BatteryEnd)

	require.NotNil(t, s.HomeLocation)
	assert.Equal(t, 37.0, s.HomeLocation.Latitude)
	require.NotNil(t, s.EndLocation)
	assert.Equal(t, 37.002, s.EndLocation.Latitude)

	// Two millidegrees of latitude, about 111 meters each.
	require.NotNil(t, s.TotalDistance)
	assert.InEpsilon(t, 222.4, *s.TotalDistance, 0.01)
	require.NotNil(t, s.MaxDistance)
	assert.InEpsilon(t, 222.4, *s.MaxDistance, 0.01)
}

func TestAggregatorSkipsMissingFixes(t *testing.T) {
	agg := NewAggregator()
	agg.Add(fixPoint(0, 37.0, -122.0))
	agg.Add(DataPoint{OffsetMs: 1000}) // GPS dropout
	agg.Add(fixPoint(2000, 37.001, -122.0))
	s, _ := agg.Finalize()

	// The dropout must not contribute a leg through the zero origin.
	require.NotNil(t, s.TotalDistance)
	assert.InEpsilon(t, 111.2, *s.TotalDistance, 0.01)
}

func TestAggregatorAbsentNotZero(t *testing.T) {
	t.Run("no points", func(t *testing.T) {
		s, warnings := NewAggregator().Finalize()
		assert.Empty(t, warnings)
		assert.Equal(t, 0, s.DataPoints)
		assert.Equal(t, 0.0, s.DurationSeconds)
		assert.Nil(t, s.MaxAltitude)
		assert.Nil(t, s.MaxSpeed)
		assert.Nil(t, s.HomeLocation)
		assert.Nil(t, s.TotalDistance)
		assert.Nil(t, s.BatteryStart)
	})

	t.Run("single fix has no track", func(t *testing.T) {
		agg := NewAggregator()
		agg.Add(fixPoint(0, 37.0, -122.0))
		s, _ := agg.Finalize()

		require.NotNil(t, s.HomeLocation)
		assert.Nil(t, s.TotalDistance, "distance needs two fixes")
		assert.Nil(t, s.MaxDistance)
		assert.Nil(t, s.EndLocation)
	})

	t.Run("no fixes at all", func(t *testing.T) {
		agg := NewAggregator()
		agg.Add(DataPoint{OffsetMs: 0, Altitude: f64(10)})
		agg.Add(DataPoint{OffsetMs: 1000, Altitude: f64(20)})
		s, _ := agg.Finalize()

		assert.Nil(t, s.HomeLocation)
		assert.Nil(t, s.StartLocation)
		assert.Nil(t, s.EndLocation)
		assert.Nil(t, s.TotalDistance)
		require.NotNil(t, s.MaxAltitude)
		assert.Equal(t, 20.0, *s.MaxAltitude)
	})
}

func TestAggregatorZeroDurationWarning(t *testing.T) {
	agg := NewAggregator()
	agg.Add(DataPoint{OffsetMs: 500})
	agg.Add(DataPoint{OffsetMs: 500})
	s, warnings := agg.Finalize()

	assert.Equal(t, 0.0, s.DurationSeconds)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "zero-duration")
}
