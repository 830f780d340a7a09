package txtlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"example.com/flightlog/internal/common"
	"example.com/flightlog/internal/flight"
	"example.com/flightlog/internal/keychain"
)

// Severity classifies a diagnostic entry.
type Severity string

const (
	WARN  Severity = "WARN"
	ERROR Severity = "ERROR"
)

// Diagnostic is one entry in the decode warnings/errors ledger.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Offset   int64    `json:"offset,omitempty"`
}

// Result is the decoder's output contract: the summary, the ordered
// data-point sequence, and the warnings/errors ledger.
type Result struct {
	Summary    flight.Summary     `json:"summary"`
	DataPoints []flight.DataPoint `json:"dataPoints"`
	Warnings   []Diagnostic       `json:"warnings"`
	Errors     []Diagnostic       `json:"errors"`
}

// KeychainFetcher is satisfied by keychain.Client. Split out so tests can
// substitute canned keychains without a network round trip.
type KeychainFetcher interface {
	Fetch(ctx context.Context, req keychain.Request) (keychain.Set, error)
}

// Options configures one decode session.
type Options struct {
	// Filename is recorded on the summary. Pattern validation is the
	// caller's concern.
	Filename string

	// Fetcher supplies keychains for encrypted versions. Ignored when
	// Keychains is already populated.
	Fetcher KeychainFetcher

	// Keychains short-circuits the fetch. Session-scoped: never share a set
	// across files.
	Keychains keychain.Set

	Metrics *common.Metrics
}

// session is the per-file decode state. Confined to a single Decode call so
// concurrent decodes need no coordination.
type session struct {
	hdr       Header
	opts      Options
	keychains keychain.Set

	points []flight.DataPoint
	agg    *flight.Aggregator

	warnings []Diagnostic
	errs     []Diagnostic

	details    *Details
	lastTick   int64
	haveTick   bool
	encrypted  int // records that carried ciphertext
	decryptBad int
}

func (s *session) warnf(code string, offset int64, format string, args ...interface{}) {
	s.warnings = append(s.warnings, Diagnostic{
		Severity: WARN,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Offset:   offset,
	})
}

// warnRecovered attributes the recovery warning to the corruption site, not
// the record the stream resumed on.
func (s *session) warnRecovered(reader *RecordReader, rec Record) {
	origin := reader.ResyncOrigin()
	if origin != rec.Offset {
		s.warnf("corrupt-record-recovered", origin, "corrupt record recovered, resumed at offset %d", rec.Offset)
		return
	}
	s.warnf("corrupt-record-recovered", origin, "corrupt record recovered")
}

func (s *session) errorf(code string, offset int64, format string, args ...interface{}) {
	s.errs = append(s.errs, Diagnostic{
		Severity: ERROR,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Offset:   offset,
	})
}

// Decode runs the full pipeline over one flight-log buffer. Structural
// failures return a nil result; record-level trouble lands in the ledger and
// decoding continues. On cancellation the partial result is returned
// together with a CancelledError.
func Decode(ctx context.Context, data []byte, opts Options) (*Result, error) {
	hdr, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	secs, err := LocateSections(hdr, int64(len(data)))
	if err != nil {
		return nil, err
	}

	s := &session{hdr: hdr, opts: opts, agg: flight.NewAggregator()}

	if opts.Metrics != nil {
		opts.Metrics.SetTotalBytes(int64(len(data)))
		opts.Metrics.Start()
		defer opts.Metrics.Stop()
	}

	// The Details area decodes first so record-stream cross-checks have
	// metadata to compare against. Corruption here never aborts: the
	// Records area is the source of truth.
	s.parseDetailsArea(data, secs)

	if hdr.Encrypted() {
		set, err := s.obtainKeychains(ctx, data, secs)
		if err != nil {
			return nil, err
		}
		s.keychains = set
	}

	records := data[secs.Records.Start:secs.Records.End]
	reader := NewRecordReader(records, secs.Records.Start, hdr)
	reader.SetMetrics(opts.Metrics)

	var terminal error
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			res := s.finish()
			return res, &CancelledError{Err: ctxErr}
		}
		rec, recovered, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var corrupt *CorruptRecordError
			if errors.As(err, &corrupt) {
				s.errorf("corrupt-record", corrupt.Offset, "%s", corrupt.Reason)
				terminal = err
				break
			}
			return nil, err
		}
		if recovered {
			s.warnRecovered(reader, rec)
		}
		s.consume(rec, true)
	}

	return s.finish(), terminal
}

// consume descrambles, optionally decrypts, dispatches and folds a single
// record. fromRecordsArea selects whether encryption applies.
func (s *session) consume(rec Record, fromRecordsArea bool) {
	if len(rec.Payload) < 2 {
		s.warnf("record-too-short", rec.Offset, "payload of %d bytes cannot be descrambled", len(rec.Payload))
		return
	}
	plain := Unscramble(rec.Type, rec.Payload)

	if fromRecordsArea && s.hdr.Encrypted() {
		if len(plain) < 4 {
			s.warnf("record-too-short", rec.Offset, "encrypted payload missing timeline tick")
			return
		}
		tick := int64(binary.LittleEndian.Uint32(plain))
		kc, ok := s.keychains.Find(tick)
		if !ok {
			s.warnf("no-keychain", rec.Offset, "no keychain window covers tick %dms", tick)
			return
		}
		s.encrypted++
		body, err := kc.Decrypt(plain[4:])
		if err != nil {
			s.decryptBad++
			if s.opts.Metrics != nil {
				s.opts.Metrics.IncDecryptError()
			}
			s.warnf("decrypt-failed", rec.Offset, "%v", err)
			return
		}
		plain = body
	}

	dec, err := Dispatch(rec.Type, plain)
	if err != nil {
		s.warnf("decode-failed", rec.Offset, "record type 0x%02X: %v", rec.Type, err)
		return
	}

	switch v := dec.(type) {
	case TelemetryPoint:
		s.addPoint(v.Point, rec.Offset)
	case PhotoMarker:
		s.addPoint(v.Point, rec.Offset)
	case MetadataFragment:
		det := v.Details
		s.details = &det
	case Unrecognized:
		common.Debugf("unrecognized record type 0x%02X (%d bytes) at offset %d", v.Type, len(v.Raw), rec.Offset)
	}
}

// addPoint enforces the non-decreasing timestamp invariant on the output
// sequence: a regressed point is dropped with a warning instead of breaking
// downstream consumers.
func (s *session) addPoint(p flight.DataPoint, offset int64) {
	if s.haveTick && p.OffsetMs < s.lastTick {
		s.warnf("timestamp-regression", offset, "point at %dms behind stream position %dms", p.OffsetMs, s.lastTick)
		return
	}
	s.lastTick = p.OffsetMs
	s.haveTick = true
	s.points = append(s.points, p)
	s.agg.Add(p)
}

func (s *session) parseDetailsArea(data []byte, secs Sections) {
	if secs.Details.Len() <= 0 {
		return
	}
	area := data[secs.Details.Start:secs.Details.End]
	reader := NewRecordReader(area, secs.Details.Start, s.hdr)
	for {
		rec, recovered, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			var corrupt *CorruptRecordError
			if errors.As(err, &corrupt) {
				s.warnf("details-area", corrupt.Offset, "details area corrupt: %s", corrupt.Reason)
				return
			}
			s.warnf("details-area", secs.Details.Start, "details area unreadable: %v", err)
			return
		}
		if recovered {
			s.warnRecovered(reader, rec)
		}
		// Details-area payloads are scrambled but never encrypted,
		// regardless of version.
		s.consume(rec, false)
	}
}

// obtainKeychains returns the session's keychains, fetching them when the
// caller did not supply a set. Fetch failures are structural: an encrypted
// file without keys cannot be decoded.
func (s *session) obtainKeychains(ctx context.Context, data []byte, secs Sections) (keychain.Set, error) {
	if len(s.opts.Keychains) > 0 {
		return s.opts.Keychains, nil
	}
	if s.opts.Fetcher == nil {
		return nil, formatErrorf("version %d log is encrypted but no keychain client is configured", s.hdr.Version)
	}
	lo, hi, ok := scanTickRange(data[secs.Records.Start:secs.Records.End], secs.Records.Start, s.hdr)
	if !ok {
		// No readable ticks; ask for the whole plausible timeline.
		lo, hi = 0, math.MaxInt32
	}
	return s.opts.Fetcher.Fetch(ctx, keychain.Request{
		Serial:  s.hdr.Serial,
		Version: s.hdr.Version,
		Ranges:  []keychain.Range{{Start: lo, End: hi + 1}},
	})
}

// scanTickRange makes a framing-only pre-pass over the records area to find
// the timeline span needing keys. Only the four tick bytes are descrambled;
// corruption just ends the scan early.
func scanTickRange(records []byte, base int64, hdr Header) (lo, hi int64, ok bool) {
	reader := NewRecordReader(records, base, hdr)
	for {
		rec, _, err := reader.Next()
		if err != nil {
			break
		}
		if len(rec.Payload) < 5 {
			continue
		}
		ks := keystream(rec.Type, rec.Payload[0])
		var tickBytes [4]byte
		for i := 0; i < 4; i++ {
			tickBytes[i] = rec.Payload[i+1] ^ ks[(i+1)%8]
		}
		tick := int64(binary.LittleEndian.Uint32(tickBytes[:]))
		if !ok {
			lo, hi, ok = tick, tick, true
			continue
		}
		if tick < lo {
			lo = tick
		}
		if tick > hi {
			hi = tick
		}
	}
	return lo, hi, ok
}

func (s *session) finish() *Result {
	s.runChecks()

	summary, aggWarnings := s.agg.Finalize()
	for _, w := range aggWarnings {
		s.warnf("aggregate", 0, "%s", w)
	}

	summary.Filename = s.opts.Filename
	if s.details != nil && s.details.StartedMs > 0 {
		t := time.UnixMilli(s.details.StartedMs).UTC()
		summary.StartTime = &t
	}
	summary.Partial = s.partial()
	summary.Warnings = len(s.warnings)
	summary.Errors = len(s.errs)

	return &Result{
		Summary:    summary,
		DataPoints: s.points,
		Warnings:   s.warnings,
		Errors:     s.errs,
	}
}
