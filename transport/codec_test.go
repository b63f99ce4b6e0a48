package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nus-sys/neobft-artifact/aom"
)

func TestPacketRoundTripInternal(t *testing.T) {
	pkt := &aom.Packet{
		Message: aom.Message{
			Session:  1,
			Shard:    2,
			Sequence: 41,
			Digest:   aom.Digest{0xAABBCCDD, 0x11223344},
			Payload:  []byte("operation"),
		},
		Tags: []aom.Tag{0x3a514678, 0xdeadbeef},
	}

	buf, err := EncodePacket(pkt)
	require.NoError(t, err)

	got, err := DecodePacket(buf)
	require.NoError(t, err)
	assert.Equal(t, pkt, got)
}

func TestPacketRoundTripSigned(t *testing.T) {
	pkt := &aom.Packet{
		Message: aom.Message{
			Session:  3,
			Shard:    0,
			Sequence: 7,
			Digest:   aom.Digest{1, 2},
			Payload:  []byte("x"),
		},
		Signature: []byte("signature-bytes"),
	}

	buf, err := EncodePacket(pkt)
	require.NoError(t, err)

	got, err := DecodePacket(buf)
	require.NoError(t, err)
	assert.Equal(t, pkt, got)
}

func TestEncodeRequiresAuthenticator(t *testing.T) {
	_, err := EncodePacket(&aom.Packet{
		Message: aom.Message{Digest: aom.Digest{1, 2}, Payload: []byte("x")},
	})
	assert.Error(t, err)
}

func TestDecodeTruncatedPacket(t *testing.T) {
	pkt := &aom.Packet{
		Message: aom.Message{
			Sequence: 1,
			Digest:   aom.Digest{1, 2},
			Payload:  []byte("payload"),
		},
		Tags: []aom.Tag{1, 2},
	}
	buf, err := EncodePacket(pkt)
	require.NoError(t, err)

	for _, n := range []int{0, 5, packetHeaderLen - 1, packetHeaderLen + 3} {
		_, err := DecodePacket(buf[:n])
		assert.ErrorIs(t, err, ErrTruncated, "length %d", n)
	}
}

func TestSubmissionRoundTrip(t *testing.T) {
	msg := aom.Message{
		Session: 5,
		Digest:  aom.Digest{0xAABBCCDD, 0x11223344},
		Payload: []byte("client request"),
	}

	got, err := DecodeSubmission(EncodeSubmission(&msg))
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestSubmissionRejectsMalformed(t *testing.T) {
	// Too short to carry a payload.
	_, err := DecodeSubmission(make([]byte, submissionHeaderLen))
	assert.ErrorIs(t, err, aom.ErrMalformedMessage)

	// Zero digest.
	msg := aom.Message{Session: 1, Payload: []byte("x")}
	_, err = DecodeSubmission(EncodeSubmission(&msg))
	assert.ErrorIs(t, err, aom.ErrMalformedMessage)
}
