package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/nus-sys/neobft-artifact/aom"
)

// maxDatagram is the receive buffer size for admission datagrams.
const maxDatagram = 65536

// UDPForwarder sends encoded packets to each shard's multicast group
// address. Group addresses are resolved once from the plan at startup.
type UDPForwarder struct {
	conn   *net.UDPConn
	groups map[aom.ShardID]*net.UDPAddr
}

// NewUDPForwarder resolves every group address of the plan and opens the
// sending socket.
func NewUDPForwarder(plan *aom.ShardPlan) (*UDPForwarder, error) {
	groups := make(map[aom.ShardID]*net.UDPAddr, len(plan.Shards))
	for _, shard := range plan.Shards {
		addr, err := net.ResolveUDPAddr("udp", shard.Group)
		if err != nil {
			return nil, fmt.Errorf("resolve group for shard %d: %w", shard.ID, err)
		}
		groups[shard.ID] = addr
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("open forwarder socket: %w", err)
	}
	return &UDPForwarder{conn: conn, groups: groups}, nil
}

// Forward implements aom.Forwarder.
func (f *UDPForwarder) Forward(_ context.Context, shard aom.Shard, pkt *aom.Packet) error {
	addr, ok := f.groups[shard.ID]
	if !ok {
		return fmt.Errorf("%w: %d", aom.ErrUnknownShard, shard.ID)
	}
	buf, err := EncodePacket(pkt)
	if err != nil {
		return err
	}
	if _, err := f.conn.WriteToUDP(buf, addr); err != nil {
		return fmt.Errorf("send to shard %d group: %w", shard.ID, err)
	}
	return nil
}

// Close releases the sending socket.
func (f *UDPForwarder) Close() error {
	return f.conn.Close()
}

// Listener receives admission datagrams from the upstream producer and
// hands decoded messages to the engine. Malformed datagrams are counted
// and logged, never stamped.
type Listener struct {
	conn    *net.UDPConn
	handler func(context.Context, aom.Message) error
	log     *slog.Logger
}

// NewListener binds the admission socket.
func NewListener(addr string, handler func(context.Context, aom.Message) error, log *slog.Logger) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("bind admission socket: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		conn:    conn,
		handler: handler,
		log:     log.With("component", "listener", "addr", addr),
	}, nil
}

// LocalAddr returns the bound admission address.
func (l *Listener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Close releases the admission socket. Run also closes it on context
// cancellation; Close covers a listener that was never run.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// Run reads datagrams until ctx is cancelled. Handler errors other than
// admission rejections are returned and stop the loop; a handler returning
// aom.ErrSequenceOverflow (or any wrapped fatal stamp error) therefore
// terminates the listener, which the service treats as fatal.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("admission read: %w", err)
		}

		msg, err := DecodeSubmission(buf[:n])
		if err != nil {
			l.log.Warn("rejected admission datagram", "err", err, "bytes", n)
			continue
		}
		if err := l.handler(ctx, msg); err != nil {
			if errors.Is(err, aom.ErrMalformedMessage) {
				l.log.Warn("rejected message", "err", err)
				continue
			}
			return fmt.Errorf("admission handler: %w", err)
		}
	}
}
