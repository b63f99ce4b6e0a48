package services

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nus-sys/neobft-artifact/aom"
	"github.com/nus-sys/neobft-artifact/engine"
	"github.com/nus-sys/neobft-artifact/transport"
)

// startTestSequencer runs a sequencer whose single shard forwards to a
// loopback socket standing in for the multicast group.
func startTestSequencer(t *testing.T) (*Sequencer, *net.UDPConn) {
	t.Helper()

	group, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { group.Close() })

	svc, err := NewSequencer(&SequencerConfig{
		Engine: &aom.EngineConfig{
			Session: 1,
			Lanes:   2,
			Plan: &aom.ShardPlan{Shards: []aom.Shard{{
				ID:    0,
				Keys:  aom.KeyPair{K0: 0x33323130, K1: 0x42413938},
				Group: group.LocalAddr().String(),
			}}},
		},
		ListenAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("sequencer did not stop")
		}
	})

	return svc, group
}

func TestSequencerEndToEnd(t *testing.T) {
	svc, group := startTestSequencer(t)

	conn, err := net.Dial("udp", svc.AdmissionAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	msg := aom.Message{
		Session: 1,
		Digest:  aom.Digest{0xAABBCCDD, 0x11223344},
		Payload: []byte("client op"),
	}
	_, err = conn.Write(transport.EncodeSubmission(&msg))
	require.NoError(t, err)

	group.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 65536)
	n, _, err := group.ReadFromUDP(buf)
	require.NoError(t, err)

	pkt, err := transport.DecodePacket(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint32(0), pkt.Sequence)
	assert.Equal(t, aom.SessionID(1), pkt.Session)
	assert.Equal(t, msg.Payload, pkt.Payload)
	require.Len(t, pkt.Tags, 2)

	shard := aom.Shard{ID: 0, Keys: aom.KeyPair{K0: 0x33323130, K1: 0x42413938}}
	assert.True(t, engine.VerifyTags(shard, pkt.Message, pkt.Tags))
}

func TestSequencerAdminAPI(t *testing.T) {
	svc, group := startTestSequencer(t)

	router := chi.NewRouter()
	svc.RegisterRoutes(router)
	admin := httptest.NewServer(router)
	defer admin.Close()

	// Admit one message so the counters move.
	conn, err := net.Dial("udp", svc.AdmissionAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	msg := aom.Message{Session: 1, Digest: aom.Digest{1, 2}, Payload: []byte("op")}
	_, err = conn.Write(transport.EncodeSubmission(&msg))
	require.NoError(t, err)

	group.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 65536)
	_, _, err = group.ReadFromUDP(buf)
	require.NoError(t, err)

	resp, err := http.Get(admin.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats engine.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, uint32(1), stats.NextSequence)
	assert.Equal(t, int64(1), stats.Forwarded)

	// Reset through the API; the next stamp starts over at zero.
	postResp, err := http.Post(admin.URL+"/reset", "application/json", nil)
	require.NoError(t, err)
	postResp.Body.Close()
	require.Equal(t, http.StatusOK, postResp.StatusCode)

	assert.Equal(t, uint32(0), svc.Stats().NextSequence)
	assert.Equal(t, uint32(1), svc.Stats().Epoch)
}

func TestNewSequencerRejectsEmptyPlan(t *testing.T) {
	_, err := NewSequencer(&SequencerConfig{
		Engine: &aom.EngineConfig{
			Session: 1,
			Lanes:   1,
			Plan:    &aom.ShardPlan{},
		},
		ListenAddr: "127.0.0.1:0",
	})
	assert.ErrorIs(t, err, aom.ErrEmptyPlan)
}

func TestJournaledRestartOpensFreshEpoch(t *testing.T) {
	dir := t.TempDir()
	cfg := func() *SequencerConfig {
		return &SequencerConfig{
			Engine: &aom.EngineConfig{
				Session: 1,
				Lanes:   1,
				Plan: &aom.ShardPlan{Shards: []aom.Shard{{
					ID: 0, Keys: aom.KeyPair{K0: 1, K1: 2}, Group: "127.0.0.1:45998",
				}}},
			},
			ListenAddr: "127.0.0.1:0",
			JournalDir: dir,
		}
	}

	svc, err := NewSequencer(cfg())
	require.NoError(t, err)
	assert.Equal(t, uint32(0), svc.Stats().Epoch)
	svc.close()

	svc2, err := NewSequencer(cfg())
	require.NoError(t, err)
	defer svc2.close()
	assert.Equal(t, uint32(1), svc2.Stats().Epoch,
		"a restart must not resume the previous epoch")
}
