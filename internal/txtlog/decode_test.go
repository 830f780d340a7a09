package txtlog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"example.com/flightlog/internal/keychain"
)

const testSerial = "SN-123456"

func testKeychain(t *testing.T, start, end int64) keychain.Keychain {
	t.Helper()
	key := make([]byte, keychain.KeySize)
	iv := make([]byte, keychain.IVSize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	for i := range iv {
		iv[i] = byte(0xA0 + i)
	}
	kc, err := keychain.New(start, end, key, iv)
	if err != nil {
		t.Fatalf("keychain.New: %v", err)
	}
	return kc
}

var testFlightPoints = []TelemetrySample{
	{TickMs: 0, Lat: 37.4221234, Lon: -122.0841, AltM: 10, SpeedMS: 5, BatteryPct: 100, Satellites: 12, Signal: 80},
	{TickMs: 1000, Lat: 37.4231234, Lon: -122.0841, AltM: 25.5, SpeedMS: 7.5, BatteryPct: 95, Satellites: 12, Signal: 80},
	{TickMs: 2000, Lat: 37.4241234, Lon: -122.0841, AltM: 40, SpeedMS: 0, BatteryPct: 90, Satellites: 12, Signal: 80},
}

const testFlightStartMs int64 = 1_700_000_000_000

func testDetails() Details {
	return Details{
		Model:         "HORNET-X2",
		Serial:        testSerial,
		BatterySerial: "BAT-42",
		Firmware:      "01.02.03",
		StartedMs:     testFlightStartMs,
	}
}

// buildTestFlight assembles the reference flight: three telemetry points, one
// photo marker and a details record.
func buildTestFlight(t *testing.T, version int, variant Variant, kc *keychain.Keychain) []byte {
	t.Helper()
	w := NewLogWriter(version, variant, testSerial)
	appendOne := func(recordType, seed byte, plain []byte) {
		var err error
		if kc != nil {
			err = w.AppendEncryptedRecord(*kc, recordType, seed, plain)
		} else {
			err = w.AppendRecord(recordType, seed, plain)
		}
		if err != nil {
			t.Fatalf("append record %#x: %v", recordType, err)
		}
	}
	for i, p := range testFlightPoints {
		appendOne(RecordTypeTelemetry, byte(0x10+i), EncodeTelemetry(p))
	}
	appendOne(RecordTypePhoto, 0x20, EncodePhoto(2001, 1, "IMG_0001.jpg"))
	if err := w.AppendDetailsRecord(RecordTypeDetails, 0x30, EncodeDetails(0, testDetails())); err != nil {
		t.Fatalf("append details: %v", err)
	}
	return w.Bytes()
}

func checkReferenceFlight(t *testing.T, res *Result) {
	t.Helper()
	s := res.Summary
	if s.DataPoints != 4 {
		t.Fatalf("DataPoints = %d, want 4 (warnings %v, errors %v)", s.DataPoints, res.Warnings, res.Errors)
	}
	if s.Photos != 1 {
		t.Fatalf("Photos = %d, want 1", s.Photos)
	}
	if s.DurationSeconds != 2.001 {
		t.Fatalf("DurationSeconds = %v, want 2.001", s.DurationSeconds)
	}
	if s.MaxAltitude == nil || *s.MaxAltitude != 40 {
		t.Fatalf("MaxAltitude = %v", s.MaxAltitude)
	}
	if s.MaxSpeed == nil || *s.MaxSpeed != 7.5 {
		t.Fatalf("MaxSpeed = %v", s.MaxSpeed)
	}
	if s.BatteryStart == nil || *s.BatteryStart != 100 || s.BatteryEnd == nil || *s.BatteryEnd != 90 {
		t.Fatalf("battery = %v..%v", s.BatteryStart, s.BatteryEnd)
	}
	if s.TotalDistance == nil || *s.TotalDistance < 200 || *s.TotalDistance > 250 {
		t.Fatalf("TotalDistance = %v, want roughly 222m", s.TotalDistance)
	}
	if s.HomeLocation == nil || math.Abs(s.HomeLocation.Latitude-37.4221234) > 1e-6 {
		t.Fatalf("HomeLocation = %+v", s.HomeLocation)
	}
	if s.EndLocation == nil || math.Abs(s.EndLocation.Latitude-37.4241234) > 1e-6 {
		t.Fatalf("EndLocation = %+v", s.EndLocation)
	}
	if s.StartTime == nil || !s.StartTime.Equal(time.UnixMilli(testFlightStartMs)) {
		t.Fatalf("StartTime = %v", s.StartTime)
	}
	if s.Partial {
		t.Fatalf("flight flagged partial: warnings %v", res.Warnings)
	}
	if len(res.Warnings) != 0 || len(res.Errors) != 0 {
		t.Fatalf("unexpected diagnostics: warnings %v, errors %v", res.Warnings, res.Errors)
	}
	if res.DataPoints[3].PhotoFilename != "IMG_0001.jpg" {
		t.Fatalf("photo point = %+v", res.DataPoints[3])
	}
}

func TestDecodePlainFlight(t *testing.T) {
	tests := []struct {
		name    string
		version int
		variant Variant
	}{
		{name: "narrow length variant A", version: 11, variant: VariantA},
		{name: "wide length variant B", version: 12, variant: VariantB},
		{name: "oldest supported version", version: 4, variant: VariantA},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := buildTestFlight(t, tc.version, tc.variant, nil)
			res, err := Decode(context.Background(), data, Options{Filename: "flight.txt"})
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			checkReferenceFlight(t, res)
			if res.Summary.Filename != "flight.txt" {
				t.Fatalf("Filename = %q", res.Summary.Filename)
			}
		})
	}
}

type fakeFetcher struct {
	set   keychain.Set
	err   error
	calls int
	req   keychain.Request
}

func (f *fakeFetcher) Fetch(ctx context.Context, req keychain.Request) (keychain.Set, error) {
	f.calls++
	f.req = req
	return f.set, f.err
}

func TestDecodeEncryptedFlight(t *testing.T) {
	kc := testKeychain(t, 0, 10_000)
	data := buildTestFlight(t, 13, VariantB, &kc)

	t.Run("with canned keychains", func(t *testing.T) {
		res, err := Decode(context.Background(), data, Options{Keychains: keychain.Set{kc}})
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		checkReferenceFlight(t, res)
	})

	t.Run("via fetcher", func(t *testing.T) {
		fetcher := &fakeFetcher{set: keychain.Set{kc}}
		res, err := Decode(context.Background(), data, Options{Fetcher: fetcher})
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		checkReferenceFlight(t, res)
		if fetcher.calls != 1 {
			t.Fatalf("fetcher called %d times", fetcher.calls)
		}
		if fetcher.req.Serial != testSerial || fetcher.req.Version != 13 {
			t.Fatalf("request = %+v", fetcher.req)
		}
		// The prescan saw ticks 0 through 2001, so the requested range must
		// cover the full recorded timeline.
		if len(fetcher.req.Ranges) != 1 || fetcher.req.Ranges[0].Start != 0 || fetcher.req.Ranges[0].End != 2002 {
			t.Fatalf("ranges = %+v", fetcher.req.Ranges)
		}
	})

	t.Run("no keychain source", func(t *testing.T) {
		_, err := Decode(context.Background(), data, Options{})
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Fatalf("expected FormatError, got %v", err)
		}
	})

	t.Run("fetcher failure propagates", func(t *testing.T) {
		fetcher := &fakeFetcher{err: keychain.ErrEmptyKeychain}
		_, err := Decode(context.Background(), data, Options{Fetcher: fetcher})
		if !errors.Is(err, keychain.ErrEmptyKeychain) {
			t.Fatalf("expected ErrEmptyKeychain, got %v", err)
		}
	})
}

func TestDecodeEncryptedNoCoveringWindow(t *testing.T) {
	kc := testKeychain(t, 0, 10_000)
	data := buildTestFlight(t, 13, VariantB, &kc)
	late := testKeychain(t, 500_000, 600_000)

	res, err := Decode(context.Background(), data, Options{Keychains: keychain.Set{late}})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.DataPoints) != 0 {
		t.Fatalf("decoded %d points without a covering keychain", len(res.DataPoints))
	}
	if !hasDiagnostic(res.Warnings, "no-keychain") {
		t.Fatalf("missing no-keychain warning: %v", res.Warnings)
	}
	if !hasDiagnostic(res.Warnings, "no-telemetry") {
		t.Fatalf("missing no-telemetry warning: %v", res.Warnings)
	}
}

func TestDecodePervasiveDecryptFailure(t *testing.T) {
	kc := testKeychain(t, 0, 10_000)
	w := NewLogWriter(13, VariantB, testSerial)
	for i, p := range testFlightPoints {
		plain := EncodeTelemetry(p)
		body, err := kc.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		// One trailing byte breaks the block alignment, so decryption fails
		// deterministically.
		wire := append(append(plain[:4:4], body...), 0x00)
		if err := w.AppendRecord(RecordTypeTelemetry, byte(0x10+i), wire); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
	}
	if err := w.AppendDetailsRecord(RecordTypeDetails, 0x30, EncodeDetails(0, testDetails())); err != nil {
		t.Fatalf("AppendDetailsRecord: %v", err)
	}

	res, err := Decode(context.Background(), w.Bytes(), Options{Keychains: keychain.Set{kc}})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.DataPoints) != 0 {
		t.Fatalf("decoded %d points from tampered records", len(res.DataPoints))
	}
	if !hasDiagnostic(res.Warnings, "decrypt-failed") {
		t.Fatalf("missing decrypt-failed warning: %v", res.Warnings)
	}
	if !hasDiagnostic(res.Errors, "pervasive-decrypt-failure") {
		t.Fatalf("missing pervasive-decrypt-failure error: %v", res.Errors)
	}
}

func TestDecodeCancelled(t *testing.T) {
	data := buildTestFlight(t, 11, VariantA, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Decode(ctx, data, Options{})
	var cancelled *CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected CancelledError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("CancelledError should unwrap to context.Canceled, got %v", err)
	}
	if res == nil {
		t.Fatal("cancellation must still return the partial result")
	}
	if len(res.DataPoints) != 0 {
		t.Fatalf("expected no points before the first record, got %d", len(res.DataPoints))
	}
}

func TestDecodeCorruptTailIsTerminal(t *testing.T) {
	w := NewLogWriter(11, VariantA, testSerial)
	if err := w.AppendRecord(RecordTypeTelemetry, 0x10, EncodeTelemetry(testFlightPoints[0])); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	w.AppendRawRecords(make([]byte, 128))
	if err := w.AppendDetailsRecord(RecordTypeDetails, 0x30, EncodeDetails(0, testDetails())); err != nil {
		t.Fatalf("AppendDetailsRecord: %v", err)
	}

	res, err := Decode(context.Background(), w.Bytes(), Options{})
	var corrupt *CorruptRecordError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptRecordError, got %v", err)
	}
	if res == nil || len(res.DataPoints) != 1 {
		t.Fatalf("points decoded before the corruption must be preserved: %+v", res)
	}
	if !hasDiagnostic(res.Errors, "corrupt-record") {
		t.Fatalf("missing corrupt-record error: %v", res.Errors)
	}
}

func TestDecodeAttributesRecoveryToCorruptionSite(t *testing.T) {
	w := NewLogWriter(11, VariantA, testSerial)
	if err := w.AppendRecord(RecordTypeTelemetry, 0x10, EncodeTelemetry(testFlightPoints[0])); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	junkAt := len(w.records)
	w.AppendRawRecords(make([]byte, 16))
	resumeAt := len(w.records)
	if err := w.AppendRecord(RecordTypeTelemetry, 0x11, EncodeTelemetry(testFlightPoints[1])); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	if err := w.AppendDetailsRecord(RecordTypeDetails, 0x30, EncodeDetails(0, testDetails())); err != nil {
		t.Fatalf("AppendDetailsRecord: %v", err)
	}
	recordsBase := int64(HeaderSize + len(w.details))

	res, err := Decode(context.Background(), w.Bytes(), Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.DataPoints) != 2 {
		t.Fatalf("DataPoints = %d, want 2", len(res.DataPoints))
	}
	var recov *Diagnostic
	for i := range res.Warnings {
		if res.Warnings[i].Code == "corrupt-record-recovered" {
			recov = &res.Warnings[i]
		}
	}
	if recov == nil {
		t.Fatalf("missing corrupt-record-recovered warning: %v", res.Warnings)
	}
	if want := recordsBase + int64(junkAt); recov.Offset != want {
		t.Fatalf("warning offset = %d, want corruption site %d", recov.Offset, want)
	}
	if want := fmt.Sprintf("resumed at offset %d", recordsBase+int64(resumeAt)); !strings.Contains(recov.Message, want) {
		t.Fatalf("warning message = %q, want mention of %q", recov.Message, want)
	}
}

func TestDecodePreservesRecordWithCorruptEndMarker(t *testing.T) {
	w := NewLogWriter(11, VariantA, testSerial)
	for i, p := range testFlightPoints {
		if err := w.AppendRecord(RecordTypeTelemetry, byte(0x10+i), EncodeTelemetry(p)); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
	}
	if err := w.AppendDetailsRecord(RecordTypeDetails, 0x30, EncodeDetails(0, testDetails())); err != nil {
		t.Fatalf("AppendDetailsRecord: %v", err)
	}
	// All three telemetry frames have the same length; flip the middle
	// record's end marker only.
	frameLen := len(w.records) / len(testFlightPoints)
	w.records[2*frameLen-1] ^= 0x5A

	res, err := Decode(context.Background(), w.Bytes(), Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.DataPoints) != len(testFlightPoints) {
		t.Fatalf("DataPoints = %d, want %d: the damaged record must still decode", len(res.DataPoints), len(testFlightPoints))
	}
	if !hasDiagnostic(res.Warnings, "corrupt-record-recovered") {
		t.Fatalf("missing corrupt-record-recovered warning: %v", res.Warnings)
	}
	if res.DataPoints[1].OffsetMs != int64(testFlightPoints[1].TickMs) {
		t.Fatalf("middle point offset = %d, want %d", res.DataPoints[1].OffsetMs, testFlightPoints[1].TickMs)
	}
}

func TestDecodeCrossChecks(t *testing.T) {
	t.Run("serial mismatch", func(t *testing.T) {
		w := NewLogWriter(11, VariantA, "SN-OTHER")
		if err := w.AppendRecord(RecordTypeTelemetry, 0x10, EncodeTelemetry(testFlightPoints[0])); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
		if err := w.AppendDetailsRecord(RecordTypeDetails, 0x30, EncodeDetails(0, testDetails())); err != nil {
			t.Fatalf("AppendDetailsRecord: %v", err)
		}
		res, err := Decode(context.Background(), w.Bytes(), Options{})
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !res.Summary.Partial {
			t.Fatal("serial mismatch must flag the summary as partial")
		}
		if !hasDiagnostic(res.Warnings, "serial-mismatch") {
			t.Fatalf("missing serial-mismatch warning: %v", res.Warnings)
		}
	})

	t.Run("missing details", func(t *testing.T) {
		w := NewLogWriter(11, VariantA, testSerial)
		if err := w.AppendRecord(RecordTypeTelemetry, 0x10, EncodeTelemetry(testFlightPoints[0])); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
		res, err := Decode(context.Background(), w.Bytes(), Options{})
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !res.Summary.Partial {
			t.Fatal("missing details must flag the summary as partial")
		}
		if !hasDiagnostic(res.Warnings, "no-details") {
			t.Fatalf("missing no-details warning: %v", res.Warnings)
		}
		if res.Summary.StartTime != nil {
			t.Fatalf("StartTime = %v without details", res.Summary.StartTime)
		}
	})
}

func TestDecodeDropsRegressedTimestamps(t *testing.T) {
	w := NewLogWriter(11, VariantA, testSerial)
	first := testFlightPoints[1] // tick 1000
	second := testFlightPoints[0]
	second.TickMs = 500
	for i, p := range []TelemetrySample{first, second} {
		if err := w.AppendRecord(RecordTypeTelemetry, byte(0x10+i), EncodeTelemetry(p)); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
	}
	if err := w.AppendDetailsRecord(RecordTypeDetails, 0x30, EncodeDetails(0, testDetails())); err != nil {
		t.Fatalf("AppendDetailsRecord: %v", err)
	}

	res, err := Decode(context.Background(), w.Bytes(), Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.DataPoints) != 1 || res.DataPoints[0].OffsetMs != 1000 {
		t.Fatalf("points = %+v", res.DataPoints)
	}
	if !hasDiagnostic(res.Warnings, "timestamp-regression") {
		t.Fatalf("missing timestamp-regression warning: %v", res.Warnings)
	}
}

func hasDiagnostic(diags []Diagnostic, code string) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}
	return false
}
