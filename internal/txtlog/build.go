package txtlog

import (
	"encoding/binary"
	"fmt"
	"math"

	"example.com/flightlog/internal/keychain"
)

// Synthetic log construction. The decoder never writes logs; these builders
// exist for sample generation and test fixtures, and they are the byte-level
// inverse of the parsing path.

// TelemetrySample describes one telemetry record in engineering units.
// Lat and Lon both zero encode the no-fix state.
type TelemetrySample struct {
	TickMs     uint32
	Lat        float64
	Lon        float64
	AltM       float64
	SpeedMS    float64
	HeadingDeg float64
	GimbalDeg  float64

	BatteryPct uint8
	Satellites uint8
	Signal     uint8
	Photo      bool
	Video      bool

	PackMilliVolts uint16
	CurrentA       float64
	TempC          float64
	CellMilliVolts []uint16
}

// EncodeTelemetry produces the plaintext telemetry payload for the sample.
func EncodeTelemetry(s TelemetrySample) []byte {
	p := make([]byte, telMinLen+2*len(s.CellMilliVolts))
	binary.LittleEndian.PutUint32(p[telOffTick:], s.TickMs)
	binary.LittleEndian.PutUint32(p[telOffLat:], uint32(int32(math.Round(s.Lat/coordScale))))
	binary.LittleEndian.PutUint32(p[telOffLon:], uint32(int32(math.Round(s.Lon/coordScale))))
	binary.LittleEndian.PutUint16(p[telOffAlt:], uint16(int16(math.Round(s.AltM/altScale))))
	binary.LittleEndian.PutUint16(p[telOffSpeed:], uint16(int16(math.Round(s.SpeedMS/speedScale))))
	binary.LittleEndian.PutUint16(p[telOffHeading:], uint16(int16(math.Round(s.HeadingDeg/headingScale))))
	binary.LittleEndian.PutUint16(p[telOffGimbal:], uint16(int16(math.Round(s.GimbalDeg/gimbalScale))))
	p[telOffBattery] = s.BatteryPct
	p[telOffSats] = s.Satellites
	p[telOffSignal] = s.Signal
	var flags byte
	if s.Photo {
		flags |= telFlagPhoto
	}
	if s.Video {
		flags |= telFlagVideo
	}
	p[telOffFlags] = flags
	binary.LittleEndian.PutUint16(p[telOffVoltage:], s.PackMilliVolts)
	binary.LittleEndian.PutUint16(p[telOffCurrent:], uint16(int16(math.Round(s.CurrentA/currentScale))))
	binary.LittleEndian.PutUint16(p[telOffTemp:], uint16(int16(math.Round(s.TempC/tempScale))))
	p[telOffCells] = byte(len(s.CellMilliVolts))
	for i, mv := range s.CellMilliVolts {
		binary.LittleEndian.PutUint16(p[telOffCells+1+i*2:], mv)
	}
	return p
}

// EncodePhoto produces the plaintext photo-marker payload.
func EncodePhoto(tickMs uint32, index uint32, filename string) []byte {
	p := make([]byte, photoMinLen+len(filename))
	binary.LittleEndian.PutUint32(p[photoOffTick:], tickMs)
	binary.LittleEndian.PutUint32(p[photoOffIndex:], index)
	copy(p[photoOffName:], filename)
	return p
}

// EncodeDetails produces the plaintext details payload.
func EncodeDetails(tickMs uint32, det Details) []byte {
	p := make([]byte, detMinLen)
	binary.LittleEndian.PutUint32(p[detOffTick:], tickMs)
	copy(p[detOffModel:detOffModel+detFieldLen], det.Model)
	copy(p[detOffSerial:detOffSerial+detFieldLen], det.Serial)
	copy(p[detOffBattery:detOffBattery+detFieldLen], det.BatterySerial)
	copy(p[detOffFirmware:detOffFirmware+detFirmwareLen], det.Firmware)
	binary.LittleEndian.PutUint64(p[detOffStarted:], uint64(det.StartedMs))
	return p
}

// LogWriter assembles a complete synthetic flight log.
type LogWriter struct {
	version int
	variant Variant
	serial  string
	records []byte
	details []byte
}

// NewLogWriter starts a log of the given version and variant. The version is
// not validated so builders can produce deliberately broken files.
func NewLogWriter(version int, variant Variant, serial string) *LogWriter {
	return &LogWriter{version: version, variant: variant, serial: serial}
}

func (w *LogWriter) wideLength() bool {
	return w.version >= WideLengthVersion
}

// frame scrambles the plaintext and wraps it in the on-disk record frame.
func (w *LogWriter) frame(recordType, seed byte, plain []byte) ([]byte, error) {
	payload := Scramble(recordType, seed, plain)
	if len(payload) > maxRecordLen {
		return nil, fmt.Errorf("record payload %d exceeds maximum %d", len(payload), maxRecordLen)
	}
	if !w.wideLength() && len(payload) > 0xFF {
		return nil, fmt.Errorf("record payload %d exceeds narrow length byte", len(payload))
	}
	out := make([]byte, 0, len(payload)+4)
	out = append(out, recordType)
	if w.wideLength() {
		var lb [2]byte
		binary.LittleEndian.PutUint16(lb[:], uint16(len(payload)))
		out = append(out, lb[:]...)
	} else {
		out = append(out, byte(len(payload)))
	}
	out = append(out, payload...)
	out = append(out, recordEndMarker)
	return out, nil
}

// AppendRecord frames a plaintext payload into the Records area.
func (w *LogWriter) AppendRecord(recordType, seed byte, plain []byte) error {
	b, err := w.frame(recordType, seed, plain)
	if err != nil {
		return err
	}
	w.records = append(w.records, b...)
	return nil
}

// AppendEncryptedRecord encrypts the payload under kc and frames it with the
// clear tick prefix used for keychain matching. The tick is read from the
// payload's leading four bytes.
func (w *LogWriter) AppendEncryptedRecord(kc keychain.Keychain, recordType, seed byte, plain []byte) error {
	if len(plain) < 4 {
		return fmt.Errorf("encrypted payload needs a leading tick, have %d bytes", len(plain))
	}
	body, err := kc.Encrypt(plain)
	if err != nil {
		return err
	}
	wire := make([]byte, 0, 4+len(body))
	wire = append(wire, plain[:4]...)
	wire = append(wire, body...)
	return w.AppendRecord(recordType, seed, wire)
}

// AppendDetailsRecord frames a plaintext payload into the Details area.
// Details records are scrambled but never encrypted.
func (w *LogWriter) AppendDetailsRecord(recordType, seed byte, plain []byte) error {
	b, err := w.frame(recordType, seed, plain)
	if err != nil {
		return err
	}
	w.details = append(w.details, b...)
	return nil
}

// AppendRawRecords injects arbitrary bytes into the Records area, bypassing
// framing. Used to simulate corruption.
func (w *LogWriter) AppendRawRecords(b []byte) {
	w.records = append(w.records, b...)
}

// Bytes assembles the header and both areas into the final file image.
func (w *LogWriter) Bytes() []byte {
	first, second := w.details, w.records
	if w.variant == VariantB {
		first, second = w.records, w.details
	}
	out := make([]byte, HeaderSize, HeaderSize+len(first)+len(second))
	binary.LittleEndian.PutUint64(out[headerFieldPointer:], uint64(HeaderSize+len(first)))
	out[headerFieldVersion] = byte(w.version)
	if w.variant == VariantB {
		out[headerFieldVariant] = variantBMarker
	}
	copy(out[headerFieldSerial:headerFieldSerial+headerSerialLen], w.serial)
	out = append(out, first...)
	out = append(out, second...)
	return out
}
