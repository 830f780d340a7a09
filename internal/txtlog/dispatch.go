package txtlog

import (
	"encoding/binary"
	"fmt"
	"strings"

	"example.com/flightlog/internal/flight"
)

// Decoded is the tagged result of dispatching one descrambled (and, where
// the version requires it, decrypted) record payload.
type Decoded interface {
	decoded()
}

// TelemetryPoint carries one per-timestamp flight state sample.
type TelemetryPoint struct {
	Point flight.DataPoint
}

// PhotoMarker records a photo capture, with an optional filename.
type PhotoMarker struct {
	Point flight.DataPoint
}

// MetadataFragment carries Details-area metadata used for cross-validation.
type MetadataFragment struct {
	Details Details
}

// Unrecognized preserves the raw bytes of record types the decoder does not
// know. Never an error by itself.
type Unrecognized struct {
	Type byte
	Raw  []byte
}

func (TelemetryPoint) decoded()   {}
func (PhotoMarker) decoded()      {}
func (MetadataFragment) decoded() {}
func (Unrecognized) decoded()     {}

// Dispatch routes a decoded payload to the type-specific decoder. Errors are
// content-level: the caller records them as warnings and keeps going.
func Dispatch(recordType byte, payload []byte) (Decoded, error) {
	switch recordType {
	case RecordTypeTelemetry:
		return decodeTelemetry(payload)
	case RecordTypePhoto:
		return decodePhoto(payload)
	case RecordTypeDetails:
		return decodeDetails(payload)
	default:
		raw := make([]byte, len(payload))
		copy(raw, payload)
		return Unrecognized{Type: recordType, Raw: raw}, nil
	}
}

func decodeTelemetry(p []byte) (Decoded, error) {
	if len(p) < telMinLen {
		return nil, fmt.Errorf("telemetry payload %d bytes, need %d", len(p), telMinLen)
	}
	dp := flight.DataPoint{
		OffsetMs: int64(binary.LittleEndian.Uint32(p[telOffTick:])),
	}

	rawLat := int32(binary.LittleEndian.Uint32(p[telOffLat:]))
	rawLon := int32(binary.LittleEndian.Uint32(p[telOffLon:]))
	// Both raw coordinates zero means no GPS lock yet, not a fix at the
	// origin.
	if rawLat != 0 || rawLon != 0 {
		lat := float64(rawLat) * coordScale
		lon := float64(rawLon) * coordScale
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("coordinate out of range: %.7f,%.7f", lat, lon)
		}
		dp.Latitude = &lat
		dp.Longitude = &lon
	}

	dp.Altitude = f64Ptr(float64(int16(binary.LittleEndian.Uint16(p[telOffAlt:]))) * altScale)
	dp.Speed = f64Ptr(float64(int16(binary.LittleEndian.Uint16(p[telOffSpeed:]))) * speedScale)
	dp.Heading = f64Ptr(float64(int16(binary.LittleEndian.Uint16(p[telOffHeading:]))) * headingScale)
	dp.Gimbal = f64Ptr(float64(int16(binary.LittleEndian.Uint16(p[telOffGimbal:]))) * gimbalScale)
	dp.BatteryPercent = intPtr(int(p[telOffBattery]))
	dp.Satellites = intPtr(int(p[telOffSats]))
	dp.Signal = intPtr(int(p[telOffSignal]))

	flags := p[telOffFlags]
	dp.IsPhoto = flags&telFlagPhoto != 0
	dp.IsVideo = flags&telFlagVideo != 0

	dp.BatteryVoltage = f64Ptr(float64(binary.LittleEndian.Uint16(p[telOffVoltage:])) / 1000)
	dp.BatteryCurrent = f64Ptr(float64(int16(binary.LittleEndian.Uint16(p[telOffCurrent:]))) * currentScale)
	dp.BatteryTemp = f64Ptr(float64(int16(binary.LittleEndian.Uint16(p[telOffTemp:]))) * tempScale)

	cells := int(p[telOffCells])
	if cells > 0 {
		if len(p) < telOffCells+1+cells*2 {
			return nil, fmt.Errorf("telemetry payload truncated: %d cells announced, %d bytes left", cells, len(p)-telOffCells-1)
		}
		dp.CellVoltages = make([]float64, cells)
		for i := 0; i < cells; i++ {
			mv := binary.LittleEndian.Uint16(p[telOffCells+1+i*2:])
			dp.CellVoltages[i] = float64(mv) / 1000
		}
	}
	return TelemetryPoint{Point: dp}, nil
}

func decodePhoto(p []byte) (Decoded, error) {
	if len(p) < photoMinLen {
		return nil, fmt.Errorf("photo payload %d bytes, need %d", len(p), photoMinLen)
	}
	idx := int(binary.LittleEndian.Uint32(p[photoOffIndex:]))
	dp := flight.DataPoint{
		OffsetMs:   int64(binary.LittleEndian.Uint32(p[photoOffTick:])),
		IsPhoto:    true,
		PhotoIndex: intPtr(idx),
	}
	// The filename is frequently absent; an empty remainder is fine.
	if len(p) > photoOffName {
		dp.PhotoFilename = strings.TrimRight(string(p[photoOffName:]), "\x00")
	}
	return PhotoMarker{Point: dp}, nil
}

func decodeDetails(p []byte) (Decoded, error) {
	if len(p) < detMinLen {
		return nil, fmt.Errorf("details payload %d bytes, need %d", len(p), detMinLen)
	}
	det := Details{
		Model:         fixedString(p[detOffModel : detOffModel+detFieldLen]),
		Serial:        fixedString(p[detOffSerial : detOffSerial+detFieldLen]),
		BatterySerial: fixedString(p[detOffBattery : detOffBattery+detFieldLen]),
		Firmware:      fixedString(p[detOffFirmware : detOffFirmware+detFirmwareLen]),
		StartedMs:     int64(binary.LittleEndian.Uint64(p[detOffStarted:])),
	}
	return MetadataFragment{Details: det}, nil
}

func fixedString(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

func f64Ptr(v float64) *float64 { return &v }
func intPtr(v int) *int         { return &v }
