package txtlog

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"example.com/flightlog/internal/common"
)

// recordsArea builds a standalone Records byte range via the log writer.
func recordsArea(t *testing.T, version int, build func(w *LogWriter)) []byte {
	t.Helper()
	w := NewLogWriter(version, VariantB, "SN-TEST")
	build(w)
	return w.records
}

func readAll(t *testing.T, data []byte, version int) ([]Record, int, error) {
	t.Helper()
	return readAllFrom(t, NewRecordReader(data, 0, Header{Version: version}))
}

func readAllFrom(t *testing.T, reader *RecordReader) (recs []Record, recoveries int, err error) {
	t.Helper()
	for {
		rec, recovered, nextErr := reader.Next()
		if errors.Is(nextErr, io.EOF) {
			return recs, recoveries, nil
		}
		if nextErr != nil {
			return recs, recoveries, nextErr
		}
		if recovered {
			recoveries++
		}
		recs = append(recs, rec)
	}
}

func TestRecordReaderSequential(t *testing.T) {
	payloads := [][]byte{
		{0x10, 0x20},
		{0x30},
		bytes.Repeat([]byte{0x7E}, 200),
	}
	for _, version := range []int{11, 12} {
		area := recordsArea(t, version, func(w *LogWriter) {
			for i, p := range payloads {
				if err := w.AppendRecord(byte(i+1), 0x05, p); err != nil {
					t.Fatalf("AppendRecord %d: %v", i, err)
				}
			}
		})
		recs, recoveries, err := readAll(t, area, version)
		if err != nil {
			t.Fatalf("version %d: %v", version, err)
		}
		if recoveries != 0 {
			t.Fatalf("version %d: unexpected recoveries: %d", version, recoveries)
		}
		if len(recs) != len(payloads) {
			t.Fatalf("version %d: read %d records, want %d", version, len(recs), len(payloads))
		}
		for i, rec := range recs {
			if rec.Type != byte(i+1) {
				t.Fatalf("version %d record %d: type %#x", version, i, rec.Type)
			}
			if got := Unscramble(rec.Type, rec.Payload); !bytes.Equal(got, payloads[i]) {
				t.Fatalf("version %d record %d: payload mismatch", version, i)
			}
		}
	}
}

func TestRecordReaderWidePayload(t *testing.T) {
	big := bytes.Repeat([]byte{0x11}, 1500)
	area := recordsArea(t, 12, func(w *LogWriter) {
		if err := w.AppendRecord(RecordTypeTelemetry, 0x01, big); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
	})
	recs, _, err := readAll(t, area, 12)
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(recs) != 1 || len(recs[0].Payload) != len(big)+1 {
		t.Fatalf("unexpected records: %d", len(recs))
	}
}

func TestRecordReaderResyncsPastJunk(t *testing.T) {
	area := recordsArea(t, 11, func(w *LogWriter) {
		if err := w.AppendRecord(RecordTypeTelemetry, 0x01, []byte{0x01, 0x02}); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
		// Zero bytes never form a plausible frame: length 0 is below the
		// minimum, so the scan must land on the next real record.
		w.AppendRawRecords(make([]byte, 37))
		if err := w.AppendRecord(RecordTypePhoto, 0x02, []byte{0x03, 0x04}); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
	})
	reader := NewRecordReader(area, 0, Header{Version: 11})
	metrics := common.NewMetrics()
	reader.SetMetrics(metrics)

	recs, recoveries, err := readAllFrom(t, reader)
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("read %d records, want 2", len(recs))
	}
	if recoveries != 1 {
		t.Fatalf("recoveries = %d, want 1", recoveries)
	}
	if recs[1].Type != RecordTypePhoto {
		t.Fatalf("recovered record type %#x", recs[1].Type)
	}
	if reader.Resyncs() != 1 {
		t.Fatalf("Resyncs = %d, want 1", reader.Resyncs())
	}
	if snap := metrics.Snapshot(); snap.Resyncs != 1 {
		t.Fatalf("metrics resyncs = %d, want 1", snap.Resyncs)
	}
}

func TestRecordReaderRecoversCorruptEndMarker(t *testing.T) {
	payloads := [][]byte{
		{0x10, 0x20},
		{0x30, 0x40},
		{0x50, 0x60},
	}
	area := recordsArea(t, 11, func(w *LogWriter) {
		for i, p := range payloads {
			if err := w.AppendRecord(byte(i+1), 0x05, p); err != nil {
				t.Fatalf("AppendRecord %d: %v", i, err)
			}
		}
	})
	// Narrow frames here are 6 bytes (seed + 2 payload bytes on the wire);
	// flip only the second record's end marker.
	area[11] ^= 0x5A

	reader := NewRecordReader(area, 0, Header{Version: 11})
	metrics := common.NewMetrics()
	reader.SetMetrics(metrics)

	recs, recoveries, err := readAllFrom(t, reader)
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(recs) != len(payloads) {
		t.Fatalf("read %d records, want %d", len(recs), len(payloads))
	}
	if recoveries != 1 {
		t.Fatalf("recoveries = %d, want 1", recoveries)
	}
	if recs[1].Offset != 6 {
		t.Fatalf("recovered record offset = %d, want 6", recs[1].Offset)
	}
	if reader.ResyncOrigin() != 6 {
		t.Fatalf("ResyncOrigin = %d, want 6", reader.ResyncOrigin())
	}
	for i, rec := range recs {
		if got := Unscramble(rec.Type, rec.Payload); !bytes.Equal(got, payloads[i]) {
			t.Fatalf("record %d: payload mismatch after recovery", i)
		}
	}
	if snap := metrics.Snapshot(); snap.Resyncs != 1 || snap.Records != 3 {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestRecordReaderRecoversCorruptEndMarkerOnLastRecord(t *testing.T) {
	area := recordsArea(t, 11, func(w *LogWriter) {
		if err := w.AppendRecord(0x01, 0x05, []byte{0x10, 0x20}); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
		if err := w.AppendRecord(0x02, 0x05, []byte{0x30, 0x40}); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
	})
	area[len(area)-1] = 0x00

	recs, recoveries, err := readAll(t, area, 11)
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("read %d records, want 2", len(recs))
	}
	if recoveries != 1 {
		t.Fatalf("recoveries = %d, want 1", recoveries)
	}
}

func TestRecordReaderCorruptLengthFallsBackToScan(t *testing.T) {
	// Hand-built frames so every byte is pinned. The second record's length
	// byte is corrupted from 2 to 6: its would-be frame neither ends on the
	// marker nor is followed by a valid boundary, so the record cannot be
	// trusted and the scan resumes on the third one.
	area := []byte{
		0xA1, 0x02, 0x11, 0x22, 0xFF,
		0xA2, 0x06, 0x33, 0x44, 0xFF,
		0xA3, 0x02, 0x55, 0x66, 0xFF,
	}

	reader := NewRecordReader(area, 0, Header{Version: 11})
	recs, recoveries, err := readAllFrom(t, reader)
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("read %d records, want 2", len(recs))
	}
	if recs[0].Type != 0xA1 || recs[1].Type != 0xA3 {
		t.Fatalf("record types = %#x, %#x", recs[0].Type, recs[1].Type)
	}
	if recoveries != 1 {
		t.Fatalf("recoveries = %d, want 1", recoveries)
	}
	if reader.ResyncOrigin() != 5 {
		t.Fatalf("ResyncOrigin = %d, want 5", reader.ResyncOrigin())
	}
}

func TestRecordReaderUnrecoverableCorruption(t *testing.T) {
	area := recordsArea(t, 11, func(w *LogWriter) {
		if err := w.AppendRecord(RecordTypeTelemetry, 0x01, []byte{0x01, 0x02}); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
		w.AppendRawRecords(make([]byte, 128))
	})
	recs, _, err := readAll(t, area, 11)
	if len(recs) != 1 {
		t.Fatalf("read %d records before corruption, want 1", len(recs))
	}
	var corrupt *CorruptRecordError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptRecordError, got %v", err)
	}
}

func TestRecordReaderResyncWindowBound(t *testing.T) {
	w := NewLogWriter(11, VariantB, "SN-TEST")
	w.AppendRawRecords(make([]byte, 64))
	if err := w.AppendRecord(RecordTypeTelemetry, 0x01, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	reader := NewRecordReader(w.records, 0, Header{Version: 11})
	reader.resyncWindow = 16

	_, _, err := reader.Next()
	var corrupt *CorruptRecordError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptRecordError when the record lies past the scan window, got %v", err)
	}
}
