package txtlog

import (
	"encoding/binary"
	"io"

	"example.com/flightlog/internal/common"
)

// RecordReader walks a Records byte range, splitting it into discrete
// records. The stream is lazy, finite and non-restartable: callers needing
// multiple passes must buffer the records themselves.
type RecordReader struct {
	data       []byte
	base       int64 // absolute file offset of data[0]
	pos        int
	wideLength bool

	resyncWindow int
	resyncs      int
	resyncOrigin int64
	metrics      *common.Metrics
}

// NewRecordReader prepares an iterator over the given records range. base is
// the absolute file offset of the range, used only for diagnostics.
func NewRecordReader(data []byte, base int64, hdr Header) *RecordReader {
	return &RecordReader{
		data:         data,
		base:         base,
		wideLength:   hdr.WideLength(),
		resyncWindow: defaultResyncWindow,
	}
}

// SetMetrics attaches a metrics recorder to the reader.
func (r *RecordReader) SetMetrics(m *common.Metrics) {
	r.metrics = m
}

// Resyncs returns how many forward resynchronizations the stream needed.
func (r *RecordReader) Resyncs() int {
	return r.resyncs
}

// ResyncOrigin returns the absolute offset of the corruption that triggered
// the most recent recovery. Meaningful only after Next reports recovered.
func (r *RecordReader) ResyncOrigin() int64 {
	return r.resyncOrigin
}

func (r *RecordReader) lengthWidth() int {
	if r.wideLength {
		return 2
	}
	return 1
}

// frameGeometryAt parses the type/length framing of the record starting at p
// without checking the end marker. ok=false when the frame cannot fit there.
func (r *RecordReader) frameGeometryAt(p int) (payloadStart, payloadLen, frameLen int, ok bool) {
	lw := r.lengthWidth()
	if p+1+lw > len(r.data) {
		return 0, 0, 0, false
	}
	var length int
	if r.wideLength {
		length = int(binary.LittleEndian.Uint16(r.data[p+1 : p+3]))
	} else {
		length = int(r.data[p+1])
	}
	if length < 2 || length > maxRecordLen {
		return 0, 0, 0, false
	}
	frameLen = 1 + lw + length + 1
	if p+frameLen > len(r.data) {
		return 0, 0, 0, false
	}
	return p + 1 + lw, length, frameLen, true
}

// frameAt parses the record frame starting at p. It returns the payload
// bounds and total frame length, or ok=false when no well-formed record
// starts there.
func (r *RecordReader) frameAt(p int) (payloadStart, payloadLen, frameLen int, ok bool) {
	payloadStart, payloadLen, frameLen, ok = r.frameGeometryAt(p)
	if !ok || r.data[p+frameLen-1] != recordEndMarker {
		return 0, 0, 0, false
	}
	return payloadStart, payloadLen, frameLen, true
}

// Next advances to the next record. It returns io.EOF at the clean end of
// the range. A corrupted frame triggers a bounded forward scan for the next
// plausible boundary; when one is found the returned record is the recovered
// one and recovered is true, otherwise the stream terminates with a
// CorruptRecordError. Records already returned stay valid either way.
func (r *RecordReader) Next() (rec Record, recovered bool, err error) {
	if r.pos >= len(r.data) {
		return Record{}, false, io.EOF
	}

	start, payloadLen, frameLen, ok := r.frameAt(r.pos)
	if !ok {
		if rec, ok := r.recoverEndMarker(); ok {
			return rec, true, nil
		}
		return r.resync()
	}
	rec = Record{
		Type:    r.data[r.pos],
		Offset:  r.base + int64(r.pos),
		Payload: r.data[start : start+payloadLen],
	}
	if r.metrics != nil {
		r.metrics.AddRecord(int64(frameLen))
	}
	r.pos += frameLen
	return rec, false, nil
}

// recoverEndMarker salvages a record whose framing is intact except for the
// trailing marker byte. The frame is trusted only when the stream resumes
// cleanly right after it, so a corrupted length field still falls through to
// the forward scan.
func (r *RecordReader) recoverEndMarker() (Record, bool) {
	start, payloadLen, frameLen, ok := r.frameGeometryAt(r.pos)
	if !ok {
		return Record{}, false
	}
	next := r.pos + frameLen
	if next < len(r.data) {
		if _, _, _, ok := r.frameAt(next); !ok {
			return Record{}, false
		}
	}
	r.resyncs++
	r.resyncOrigin = r.base + int64(r.pos)
	if r.metrics != nil {
		r.metrics.IncResync()
		r.metrics.AddRecord(int64(frameLen))
	}
	common.Logf("recovered record with corrupt end marker at offset %d", r.resyncOrigin)
	rec := Record{
		Type:    r.data[r.pos],
		Offset:  r.resyncOrigin,
		Payload: r.data[start : start+payloadLen],
	}
	r.pos = next
	return rec, true
}

func (r *RecordReader) resync() (Record, bool, error) {
	origin := r.base + int64(r.pos)
	r.resyncOrigin = origin
	common.Logf("record resync at offset %d", origin)
	if r.metrics != nil {
		r.metrics.IncResync()
	}

	limit := r.pos + r.resyncWindow
	if limit > len(r.data) {
		limit = len(r.data)
	}
	for p := r.pos + 1; p < limit; p++ {
		start, payloadLen, frameLen, ok := r.frameAt(p)
		if !ok {
			continue
		}
		r.resyncs++
		skipped := int64(p - r.pos)
		if r.metrics != nil {
			r.metrics.AddBytes(skipped)
			r.metrics.AddRecord(int64(frameLen))
		}
		common.Logf("resync successful at offset %d, skipped %d bytes", r.base+int64(p), skipped)
		rec := Record{
			Type:    r.data[p],
			Offset:  r.base + int64(p),
			Payload: r.data[start : start+payloadLen],
		}
		r.pos = p + frameLen
		return rec, true, nil
	}

	r.pos = len(r.data)
	return Record{}, false, &CorruptRecordError{
		Offset: origin,
		Reason: "no plausible record boundary within scan window",
	}
}
