package txtlog

import (
	"encoding/binary"
	"strings"
)

// ParseHeader decodes the fixed-size leading header. It has no side effects
// and fails with a FormatError for short buffers or unrecognized versions.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, formatErrorf("header needs %d bytes, have %d", HeaderSize, len(data))
	}
	version := int(data[headerFieldVersion])
	if version < MinVersion || version > MaxVersion {
		return Header{}, formatErrorf("unrecognized format version %d", version)
	}
	variant := VariantA
	if data[headerFieldVariant] == variantBMarker {
		variant = VariantB
	}
	serial := strings.TrimRight(string(data[headerFieldSerial:headerFieldSerial+headerSerialLen]), "\x00")
	return Header{
		Version:        version,
		Variant:        variant,
		Serial:         serial,
		SectionPointer: int64(binary.LittleEndian.Uint64(data[headerFieldPointer : headerFieldPointer+8])),
	}, nil
}

// LocateSections computes the Details and Records byte ranges from the
// header and the total file length. Pure computation; the variant decides
// which area the section pointer delimits.
func LocateSections(hdr Header, total int64) (Sections, error) {
	if total < HeaderSize {
		return Sections{}, formatErrorf("file length %d shorter than header", total)
	}
	ptr := hdr.SectionPointer
	if ptr < HeaderSize || ptr > total {
		return Sections{}, formatErrorf("section pointer %d outside file of %d bytes", ptr, total)
	}

	var s Sections
	switch hdr.Variant {
	case VariantB:
		s.Records = ByteRange{Start: HeaderSize, End: ptr}
		s.Details = ByteRange{Start: ptr, End: total}
	default:
		s.Details = ByteRange{Start: HeaderSize, End: ptr}
		s.Records = ByteRange{Start: ptr, End: total}
	}
	if s.Records.Len() < 0 || s.Details.Len() < 0 {
		return Sections{}, formatErrorf("negative section span (pointer %d, total %d)", ptr, total)
	}
	if s.Records.Len() == 0 {
		return Sections{}, formatErrorf("records area is empty")
	}
	return s, nil
}
