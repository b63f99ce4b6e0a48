// Package transport carries packets between the upstream producer, the
// sequencer, and the replica multicast groups: a compact binary wire
// format plus a UDP admission listener and a UDP multicast forwarder.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/nus-sys/neobft-artifact/aom"
)

// Sequenced packet header layout, all integers big-endian:
//
//	0:4   sequence number
//	4     session id
//	5     shard id
//	6     lane count (number of 4-byte tags that follow the header)
//	7     flags
//	8:16  digest (two 32-bit words)
//	16:   lane tags, then an optional length-prefixed signature, then payload
const packetHeaderLen = 16

// flagSigned marks a packet authenticated by the external accelerator
// instead of the internal keyed hash.
const flagSigned = 0x01

// Submission header layout (producer -> sequencer):
//
//	0     session id
//	1:9   digest (two 32-bit words)
//	9:    payload
const submissionHeaderLen = 9

var (
	// ErrTruncated marks a buffer shorter than its own framing claims.
	ErrTruncated = errors.New("truncated packet")

	errNoAuth       = errors.New("packet carries neither tags nor signature")
	errSignatureLen = errors.New("signature too long")
)

// EncodePacket serializes a finished packet for one shard's group.
func EncodePacket(pkt *aom.Packet) ([]byte, error) {
	if len(pkt.Tags) == 0 && len(pkt.Signature) == 0 {
		return nil, errNoAuth
	}
	if len(pkt.Tags) > math.MaxUint8 {
		return nil, fmt.Errorf("too many lanes: %d", len(pkt.Tags))
	}
	if len(pkt.Signature) > math.MaxUint16 {
		return nil, errSignatureLen
	}

	size := packetHeaderLen + 4*len(pkt.Tags) + len(pkt.Payload)
	if len(pkt.Signature) > 0 {
		size += 2 + len(pkt.Signature)
	}
	buf := make([]byte, 0, size)

	var header [packetHeaderLen]byte
	binary.BigEndian.PutUint32(header[0:4], pkt.Sequence)
	header[4] = byte(pkt.Session)
	header[5] = byte(pkt.Shard)
	header[6] = byte(len(pkt.Tags))
	if len(pkt.Signature) > 0 {
		header[7] |= flagSigned
	}
	binary.BigEndian.PutUint32(header[8:12], pkt.Digest[0])
	binary.BigEndian.PutUint32(header[12:16], pkt.Digest[1])
	buf = append(buf, header[:]...)

	for _, tag := range pkt.Tags {
		buf = binary.BigEndian.AppendUint32(buf, uint32(tag))
	}
	if len(pkt.Signature) > 0 {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(pkt.Signature)))
		buf = append(buf, pkt.Signature...)
	}
	return append(buf, pkt.Payload...), nil
}

// DecodePacket parses a sequenced packet as received by a replica.
func DecodePacket(buf []byte) (*aom.Packet, error) {
	if len(buf) < packetHeaderLen {
		return nil, ErrTruncated
	}
	pkt := &aom.Packet{
		Message: aom.Message{
			Sequence: binary.BigEndian.Uint32(buf[0:4]),
			Session:  aom.SessionID(buf[4]),
			Shard:    aom.ShardID(buf[5]),
			Digest: aom.Digest{
				binary.BigEndian.Uint32(buf[8:12]),
				binary.BigEndian.Uint32(buf[12:16]),
			},
		},
	}
	lanes := int(buf[6])
	flags := buf[7]
	rest := buf[packetHeaderLen:]

	if len(rest) < 4*lanes {
		return nil, ErrTruncated
	}
	if lanes > 0 {
		pkt.Tags = make([]aom.Tag, lanes)
		for i := range pkt.Tags {
			pkt.Tags[i] = aom.Tag(binary.BigEndian.Uint32(rest[4*i : 4*i+4]))
		}
		rest = rest[4*lanes:]
	}

	if flags&flagSigned != 0 {
		if len(rest) < 2 {
			return nil, ErrTruncated
		}
		sigLen := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		if len(rest) < sigLen {
			return nil, ErrTruncated
		}
		pkt.Signature = append([]byte(nil), rest[:sigLen]...)
		rest = rest[sigLen:]
	}

	pkt.Payload = append([]byte(nil), rest...)
	return pkt, nil
}

// EncodeSubmission serializes an unstamped message for admission.
func EncodeSubmission(msg *aom.Message) []byte {
	buf := make([]byte, submissionHeaderLen, submissionHeaderLen+len(msg.Payload))
	buf[0] = byte(msg.Session)
	binary.BigEndian.PutUint32(buf[1:5], msg.Digest[0])
	binary.BigEndian.PutUint32(buf[5:9], msg.Digest[1])
	return append(buf, msg.Payload...)
}

// DecodeSubmission parses an inbound admission datagram. Missing digest or
// payload is a protocol error surfaced as aom.ErrMalformedMessage so the
// listener can reject before stamping.
func DecodeSubmission(buf []byte) (aom.Message, error) {
	if len(buf) <= submissionHeaderLen {
		return aom.Message{}, fmt.Errorf("%w: %d bytes", aom.ErrMalformedMessage, len(buf))
	}
	msg := aom.Message{
		Session: aom.SessionID(buf[0]),
		Digest: aom.Digest{
			binary.BigEndian.Uint32(buf[1:5]),
			binary.BigEndian.Uint32(buf[5:9]),
		},
		Payload: append([]byte(nil), buf[submissionHeaderLen:]...),
	}
	if msg.Digest.IsZero() {
		return aom.Message{}, fmt.Errorf("%w: zero digest", aom.ErrMalformedMessage)
	}
	return msg, nil
}
