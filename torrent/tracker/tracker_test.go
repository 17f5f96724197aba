package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neon/torrent/metainfo"
)

func TestParseCompactPeers(t *testing.T) {
	blob := []byte{
		192, 168, 1, 1, 0x1A, 0xE1, // 192.168.1.1:6881
		10, 0, 0, 2, 0x1A, 0xE2, // 10.0.0.2:6882
	}

	peers, err := parseCompactPeers(blob)
	require.NoError(t, err)
	require.Len(t, peers, 2)

	assert.Equal(t, "192.168.1.1", peers[0].IP.String())
	assert.EqualValues(t, 0x1AE1, peers[0].Port)
	assert.Equal(t, "10.0.0.2", peers[1].IP.String())
	assert.EqualValues(t, 0x1AE2, peers[1].Port)
}

func TestParseCompactPeersRejectsBadLength(t *testing.T) {
	_, err := parseCompactPeers([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCandidateEndpointsDeduplicates(t *testing.T) {
	info := &metainfo.TorrentInfo{
		Announce: "udp://tracker.example:80/announce",
		AnnounceList: [][]string{
			{"udp://tracker.example:80/announce", "http://tracker2.example/announce"},
			{"http://tracker2.example/announce"},
		},
	}

	got := candidateEndpoints(info)
	assert.Equal(t, []string{
		"udp://tracker.example:80/announce",
		"http://tracker2.example/announce",
	}, got)
}
