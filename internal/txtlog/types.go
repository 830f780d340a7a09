package txtlog

// The flight-log container format is not publicly documented. Every byte
// offset and scale factor below was pinned against golden fixture files;
// do not re-derive them from vendor docs.
const (
	// HeaderSize is the fixed-size leading header present in every log.
	HeaderSize = 100

	headerFieldPointer = 0  // uint64 LE section pointer
	headerFieldVersion = 8  // format version byte
	headerFieldVariant = 9  // recording-app variant marker
	headerFieldSerial  = 10 // 16 bytes, ASCII, NUL padded
	headerSerialLen    = 16

	// variantBMarker flags logs written by the app that stores the Records
	// area before the Details area.
	variantBMarker = 0x2A

	// MinVersion..MaxVersion is the recognized format version range.
	MinVersion = 4
	MaxVersion = 15

	// WideLengthVersion is the first version with a 2-byte record length.
	WideLengthVersion = 12
	// EncryptedVersion is the first version whose Records-area payloads are
	// AES encrypted under service-issued keychains.
	EncryptedVersion = 13

	// recordEndMarker terminates every well-formed record.
	recordEndMarker = 0xFF

	// maxRecordLen bounds the payload length a resync scan will accept as
	// plausible.
	maxRecordLen = 4096

	// defaultResyncWindow bounds the forward scan after a bad end marker.
	defaultResyncWindow = 64 * 1024
)

// Record type bytes confirmed by fixtures. Unlisted types are routed to
// Unrecognized, never rejected.
const (
	RecordTypeTelemetry = 0x01
	RecordTypePhoto     = 0x05
	RecordTypeDetails   = 0x0D
)

// Variant identifies the recording application, which determines the
// relative ordering of the Details and Records areas.
type Variant uint8

const (
	// VariantA stores the Details area before the Records area.
	VariantA Variant = iota
	// VariantB stores the Records area before the Details area.
	VariantB
)

func (v Variant) String() string {
	switch v {
	case VariantA:
		return "A"
	case VariantB:
		return "B"
	default:
		return "unknown"
	}
}

// Header is the parsed fixed-size log prologue. Immutable once parsed.
type Header struct {
	Version        int
	Variant        Variant
	Serial         string
	SectionPointer int64
}

// WideLength reports whether record lengths occupy two bytes.
func (h Header) WideLength() bool {
	return h.Version >= WideLengthVersion
}

// Encrypted reports whether Records-area payloads require keychains.
func (h Header) Encrypted() bool {
	return h.Version >= EncryptedVersion
}

// ByteRange is a half-open [Start, End) span within the file.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Len() int64 {
	return r.End - r.Start
}

// Sections holds the computed byte ranges of the two file areas.
type Sections struct {
	Records ByteRange
	Details ByteRange
}

// Record is one framed record as read from the stream: still scrambled,
// still possibly encrypted. It only lives for the duration of one
// traversal step.
type Record struct {
	Type    byte
	Offset  int64 // absolute file offset of the type byte
	Payload []byte
}

// Telemetry payload layout, after descrambling (and decryption where the
// version requires it). All fields little-endian.
const (
	telOffTick    = 0  // uint32 ms since flight start
	telOffLat     = 4  // int32, degrees * 1e7
	telOffLon     = 8  // int32, degrees * 1e7
	telOffAlt     = 12 // int16, meters * 10
	telOffSpeed   = 14 // int16, m/s * 100
	telOffHeading = 16 // int16, degrees * 10
	telOffGimbal  = 18 // int16, degrees * 10
	telOffBattery = 20 // uint8 percent
	telOffSats    = 21 // uint8 count
	telOffSignal  = 22 // uint8 0..100
	telOffFlags   = 23 // uint8 status bitmask
	telOffVoltage = 24 // uint16 pack millivolts
	telOffCurrent = 26 // int16, amps * 10
	telOffTemp    = 28 // int16, degrees C * 10
	telOffCells   = 30 // uint8 cell count, then uint16 millivolts per cell

	telMinLen = 31

	telFlagPhoto = 0x01
	telFlagVideo = 0x02

	coordScale   = 1e-7
	altScale     = 0.1
	speedScale   = 0.01
	headingScale = 0.1
	gimbalScale  = 0.1
	currentScale = 0.1
	tempScale    = 0.1
)

// Details payload layout.
const (
	detOffTick     = 0
	detOffModel    = 4
	detOffSerial   = 20
	detOffBattery  = 36
	detOffFirmware = 52
	detOffStarted  = 60 // uint64 ms since Unix epoch
	detMinLen      = 68

	detFieldLen    = 16
	detFirmwareLen = 8
)

// Photo-marker payload layout. The filename portion is frequently empty.
const (
	photoOffTick  = 0
	photoOffIndex = 4
	photoOffName  = 8
	photoMinLen   = 8
)

// Details is the metadata fragment carried by a details record. Used for
// cross-validation against the header, not part of the per-point stream.
type Details struct {
	Model         string
	Serial        string
	BatterySerial string
	Firmware      string
	StartedMs     int64
}
