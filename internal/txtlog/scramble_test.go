package txtlog

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestScrambleRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		recordType byte
		seed       byte
		plain      []byte
	}{
		{name: "telemetry", recordType: RecordTypeTelemetry, seed: 0x17, plain: []byte{0x01, 0x02, 0x03, 0x04, 0x05}},
		{name: "single byte", recordType: RecordTypePhoto, seed: 0x00, plain: []byte{0xFF}},
		{name: "keystream length boundary", recordType: RecordTypeDetails, seed: 0x7F, plain: bytes.Repeat([]byte{0xAA}, 8)},
		{name: "longer than keystream", recordType: 0x42, seed: 0xFE, plain: bytes.Repeat([]byte{0x55}, 41)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			scrambled := Scramble(tc.recordType, tc.seed, tc.plain)
			if len(scrambled) != len(tc.plain)+1 {
				t.Fatalf("scrambled length %d, want %d", len(scrambled), len(tc.plain)+1)
			}
			if scrambled[0] != tc.seed {
				t.Fatalf("seed byte %#x, want %#x", scrambled[0], tc.seed)
			}
			got := Unscramble(tc.recordType, scrambled)
			if !bytes.Equal(got, tc.plain) {
				t.Fatalf("round trip mismatch: got %x, want %x", got, tc.plain)
			}
		})
	}
}

func TestScrambleActuallyObfuscates(t *testing.T) {
	plain := bytes.Repeat([]byte{0x00}, 16)
	scrambled := Scramble(RecordTypeTelemetry, 0x01, plain)
	if bytes.Equal(scrambled[1:], plain) {
		t.Fatal("scrambled payload equals plaintext")
	}
}

func TestKeystreamDependsOnTypeAndSeed(t *testing.T) {
	base := keystream(RecordTypeTelemetry, 0x10)
	if other := keystream(RecordTypePhoto, 0x10); other == base {
		t.Fatal("keystream ignores record type")
	}
	if other := keystream(RecordTypeTelemetry, 0x11); other == base {
		t.Fatal("keystream ignores seed")
	}
}

func TestUnscrambleDegenerateInputs(t *testing.T) {
	if got := Unscramble(RecordTypeTelemetry, nil); len(got) != 0 {
		t.Fatalf("nil payload: got %x", got)
	}
	if got := Unscramble(RecordTypeTelemetry, []byte{0x33}); len(got) != 0 {
		t.Fatalf("seed-only payload: got %x", got)
	}
}

func TestScrambleRoundTripRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		plain := make([]byte, 1+rng.Intn(256))
		rng.Read(plain)
		recordType := byte(rng.Intn(256))
		seed := byte(rng.Intn(256))
		got := Unscramble(recordType, Scramble(recordType, seed, plain))
		if !bytes.Equal(got, plain) {
			t.Fatalf("iteration %d: round trip mismatch (type %#x seed %#x)", i, recordType, seed)
		}
	}
}
