package txtlog

import (
	"encoding/binary"
	"hash/crc64"
)

// Payload obfuscation: every record payload carries a one-byte seed followed
// by the scrambled bytes. The 8-byte keystream is derived from a CRC-64 over
// (record type, seed) mixed with a pinned constant, and the remaining bytes
// are XORed against it. The constant was validated against golden fixtures.
const scrambleMix = 0x8F6E2A42D1C35B79

var scrambleTable = crc64.MakeTable(crc64.ISO)

func keystream(recordType, seed byte) [8]byte {
	sum := crc64.Checksum([]byte{recordType, seed}, scrambleTable) ^ scrambleMix
	var ks [8]byte
	binary.LittleEndian.PutUint64(ks[:], sum)
	return ks
}

// Unscramble reverses the per-record XOR obfuscation. payload[0] is the
// keystream seed; output byte i-1 is payload[i] XOR keystream[i%8].
// Deterministic and stateless: no cross-record state exists.
func Unscramble(recordType byte, payload []byte) []byte {
	if len(payload) <= 1 {
		return []byte{}
	}
	ks := keystream(recordType, payload[0])
	out := make([]byte, len(payload)-1)
	for i := 1; i < len(payload); i++ {
		out[i-1] = payload[i] ^ ks[i%8]
	}
	return out
}

// Scramble is the forward obfuscation: it prepends the seed and XORs the
// plaintext with the same keystream. Because XOR is self-inverse,
// Unscramble(t, Scramble(t, seed, p)) == p for any input.
func Scramble(recordType, seed byte, plain []byte) []byte {
	ks := keystream(recordType, seed)
	out := make([]byte, len(plain)+1)
	out[0] = seed
	for i, b := range plain {
		out[i+1] = b ^ ks[(i+1)%8]
	}
	return out
}
