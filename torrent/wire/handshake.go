// Package wire implements the BitTorrent peer wire protocol: the fixed
// handshake frame and the length-prefixed message frames that follow it.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Pstr is the protocol string advertised by the handshake.
const Pstr = "BitTorrent protocol"

// Handshake is the 68-byte frame exchanged before any message traffic.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Encode serializes the handshake to its 68-byte wire form:
// <0x13><pstr><8 zero bytes><info_hash><peer_id>.
func (h Handshake) Encode() []byte {
	buf := make([]byte, 49+len(Pstr))
	buf[0] = byte(len(Pstr))
	curr := 1
	curr += copy(buf[curr:], Pstr)
	curr += copy(buf[curr:], make([]byte, 8))
	curr += copy(buf[curr:], h.InfoHash[:])
	copy(buf[curr:], h.PeerID[:])
	return buf
}

// ReadHandshake reads and validates a handshake from r, enforcing that the
// protocol string matches Pstr and, when wantInfoHash is non-zero, that the
// remote's info-hash matches it.
func ReadHandshake(r io.Reader, wantInfoHash [20]byte) (Handshake, error) {
	var lengthBuf [1]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return Handshake{}, fmt.Errorf("wire: reading pstrlen: %w", err)
	}

	pstrlen := int(lengthBuf[0])
	if pstrlen == 0 {
		return Handshake{}, fmt.Errorf("wire: zero-length protocol string")
	}

	rest := make([]byte, pstrlen+48)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Handshake{}, fmt.Errorf("wire: reading handshake body: %w", err)
	}

	if string(rest[:pstrlen]) != Pstr {
		return Handshake{}, fmt.Errorf("wire: unexpected protocol %q", rest[:pstrlen])
	}

	var hs Handshake
	copy(hs.InfoHash[:], rest[pstrlen+8:pstrlen+28])
	copy(hs.PeerID[:], rest[pstrlen+28:pstrlen+48])

	if wantInfoHash != ([20]byte{}) && hs.InfoHash != wantInfoHash {
		return Handshake{}, fmt.Errorf("wire: info-hash mismatch")
	}

	return hs, nil
}

// PutUint16/PutUint32/PutUint64 and the Uint counterparts centralize the
// big-endian integer encodings used throughout the peer protocol and the
// UDP tracker frames, rather than scattering encoding/binary calls.

func PutUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func PutUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func PutUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

func Uint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func Uint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func Uint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func PutInt16(b []byte, v int16) { binary.BigEndian.PutUint16(b, uint16(v)) }
func PutInt32(b []byte, v int32) { binary.BigEndian.PutUint32(b, uint32(v)) }
func PutInt64(b []byte, v int64) { binary.BigEndian.PutUint64(b, uint64(v)) }

func Int16(b []byte) int16 { return int16(binary.BigEndian.Uint16(b)) }
func Int32(b []byte) int32 { return int32(binary.BigEndian.Uint32(b)) }
func Int64(b []byte) int64 { return int64(binary.BigEndian.Uint64(b)) }
