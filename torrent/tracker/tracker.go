// Package tracker contacts a torrent's announce endpoint — HTTP-form or
// UDP-form (BEP 15) — and returns the peer list it hands back.
package tracker

import (
	"fmt"
	"net"
	"net/url"

	"neon/torrent/identity"
	"neon/torrent/metainfo"
)

// PeerDescriptor is one tracker-advertised peer: its IPv4 address and port.
// No tracker-assigned peer id is stored; the compact responses parsed here
// never carry one.
type PeerDescriptor struct {
	IP   net.IP
	Port uint16
}

func (p PeerDescriptor) String() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Announce contacts info's announce URL (falling back through the
// announce-list tiers) and returns the peers it advertises. A TrackerError
// is returned if the scheme is unsupported or every endpoint fails.
func Announce(info *metainfo.TorrentInfo, local identity.Local) ([]PeerDescriptor, error) {
	var lastErr error

	for _, endpoint := range candidateEndpoints(info) {
		u, err := url.Parse(endpoint)
		if err != nil {
			lastErr = fmt.Errorf("tracker: parsing %q: %w", endpoint, err)
			continue
		}

		var peers []PeerDescriptor
		switch {
		case u.Scheme == "http" || u.Scheme == "https":
			peers, err = announceHTTP(u, info, local)
		case u.Scheme == "udp":
			peers, err = announceUDP(u, info, local)
		default:
			err = fmt.Errorf("tracker: unsupported scheme %q", u.Scheme)
		}

		if err != nil {
			lastErr = err
			continue
		}

		return peers, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("tracker: no announce endpoints configured")
	}
	return nil, fmt.Errorf("tracker: all endpoints failed, last error: %w", lastErr)
}

// candidateEndpoints flattens the primary announce URL and announce-list
// tiers into a single deduplicated, order-preserving slice.
func candidateEndpoints(info *metainfo.TorrentInfo) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	add(info.Announce)
	for _, tier := range info.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}

	return out
}

// parseCompactPeers decodes the BitTorrent compact peer format: a byte
// string whose length is a multiple of 6, each record 4 bytes IPv4
// followed by a 2-byte big-endian port.
func parseCompactPeers(blob []byte) ([]PeerDescriptor, error) {
	if len(blob)%6 != 0 {
		return nil, fmt.Errorf("tracker: compact peers length %d not a multiple of 6", len(blob))
	}

	peers := make([]PeerDescriptor, 0, len(blob)/6)
	for i := 0; i < len(blob); i += 6 {
		ip := net.IPv4(blob[i], blob[i+1], blob[i+2], blob[i+3])
		port := uint16(blob[i+4])<<8 | uint16(blob[i+5])
		peers = append(peers, PeerDescriptor{IP: ip, Port: port})
	}
	return peers, nil
}
