package tracker

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"

	"neon/torrent/identity"
	"neon/torrent/metainfo"
	"neon/torrent/wire"
)

const (
	udpProtocolMagic = 0x41727101980
	actionConnect    = 0
	actionAnnounce   = 1
	actionError      = 3
	eventStarted     = 2
)

// udpDeadlines is the per-attempt retransmit schedule: 15s then 30s, per
// BEP 15.
var udpDeadlines = []time.Duration{15 * time.Second, 30 * time.Second}

// announceUDP performs a BEP 15 connect+announce transaction against a UDP
// tracker, retransmitting on timeout per udpDeadlines.
func announceUDP(u *url.URL, info *metainfo.TorrentInfo, local identity.Local) ([]PeerDescriptor, error) {
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("tracker: resolving UDP address %q: %w", u.Host, err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("tracker: dialing UDP %q: %w", u.Host, err)
	}
	defer conn.Close()

	txID := randomTxID()

	connectionID, err := udpConnect(conn, txID)
	if err != nil {
		return nil, fmt.Errorf("tracker: UDP connect to %q: %w", u.Host, err)
	}

	return udpAnnounceOnce(conn, connectionID, txID, info, local)
}

func udpConnect(conn *net.UDPConn, txID uint32) (uint64, error) {
	req := make([]byte, 16)
	wire.PutUint64(req[0:8], udpProtocolMagic)
	wire.PutUint32(req[8:12], actionConnect)
	wire.PutUint32(req[12:16], txID)

	var lastErr error
	for _, deadline := range udpDeadlines {
		if err := send(conn, req, deadline); err != nil {
			lastErr = err
			continue
		}

		resp := make([]byte, 16)
		n, err := conn.Read(resp)
		if err != nil {
			lastErr = fmt.Errorf("reading connect response: %w", err)
			continue
		}
		if n < 16 {
			lastErr = fmt.Errorf("connect response too short: %d bytes", n)
			continue
		}
		if wire.Uint32(resp[0:4]) != actionConnect {
			return 0, fmt.Errorf("unexpected connect action %d", wire.Uint32(resp[0:4]))
		}
		if wire.Uint32(resp[4:8]) != txID {
			lastErr = fmt.Errorf("connect transaction id mismatch")
			continue
		}

		return wire.Uint64(resp[8:16]), nil
	}

	return 0, lastErr
}

func udpAnnounceOnce(conn *net.UDPConn, connectionID uint64, txID uint32, info *metainfo.TorrentInfo, local identity.Local) ([]PeerDescriptor, error) {
	req := make([]byte, 98)
	wire.PutUint64(req[0:8], connectionID)
	wire.PutUint32(req[8:12], actionAnnounce)
	wire.PutUint32(req[12:16], txID)
	copy(req[16:36], info.InfoHash[:])
	copy(req[36:56], local.PeerID[:])
	wire.PutUint64(req[56:64], 0)                 // downloaded
	wire.PutUint64(req[64:72], uint64(info.TotalLength)) // left
	wire.PutUint64(req[72:80], 0)                 // uploaded
	wire.PutUint32(req[80:84], eventStarted)
	wire.PutUint32(req[84:88], 0) // ip
	wire.PutUint32(req[88:92], randomKey())
	wire.PutUint32(req[92:96], 200) // numwant
	wire.PutUint16(req[96:98], local.ListenPort)

	var lastErr error
	for _, deadline := range udpDeadlines {
		if err := send(conn, req, deadline); err != nil {
			lastErr = err
			continue
		}

		resp := make([]byte, 2048)
		n, err := conn.Read(resp)
		if err != nil {
			lastErr = fmt.Errorf("reading announce response: %w", err)
			continue
		}
		if n < 20 {
			lastErr = fmt.Errorf("announce response too short: %d bytes", n)
			continue
		}

		action := wire.Uint32(resp[0:4])
		if action == actionError {
			return nil, fmt.Errorf("tracker error: %s", string(resp[8:n]))
		}
		if action != actionAnnounce {
			return nil, fmt.Errorf("unexpected announce action %d", action)
		}
		if wire.Uint32(resp[4:8]) != txID {
			lastErr = fmt.Errorf("announce transaction id mismatch")
			continue
		}

		return parseCompactPeers(resp[20:n])
	}

	return nil, lastErr
}

func send(conn *net.UDPConn, buf []byte, deadline time.Duration) error {
	if err := conn.SetDeadline(time.Now().Add(deadline)); err != nil {
		return err
	}
	_, err := conn.Write(buf)
	return err
}

// randomTxID derives a 32-bit transaction id from UUID entropy.
func randomTxID() uint32 {
	u := uuid.New()
	return binary.BigEndian.Uint32(u[0:4])
}

// randomKey derives the per-announce "key" field the same way.
func randomKey() uint32 {
	u := uuid.New()
	return binary.BigEndian.Uint32(u[4:8])
}
