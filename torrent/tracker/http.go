package tracker

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	bencode "github.com/jackpal/bencode-go"

	"neon/torrent/identity"
	"neon/torrent/metainfo"
)

// httpResponse mirrors the bencoded dictionary an HTTP tracker returns.
type httpResponse struct {
	Failure  string `bencode:"failure reason"`
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
}

// announceHTTP performs a GET announce against an HTTP(S) tracker. Every
// query value is percent-encoded per RFC 3986 (see percentEncode) rather
// than through net/url.Values, which would escape space as '+'.
func announceHTTP(u *url.URL, info *metainfo.TorrentInfo, local identity.Local) ([]PeerDescriptor, error) {
	query := fmt.Sprintf(
		"info_hash=%s&peer_id=%s&port=%d&uploaded=0&downloaded=0&compact=1&left=%d&event=started&numwant=100",
		percentEncode(info.InfoHash[:]),
		percentEncode(local.PeerID[:]),
		local.ListenPort,
		info.TotalLength,
	)
	u.RawQuery = query

	client := &http.Client{Timeout: 15 * time.Second}

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tracker: building HTTP request: %w", err)
	}
	req.Header.Set("User-Agent", "neon/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker: HTTP announce to %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker: HTTP announce to %s: status %d", u.Host, resp.StatusCode)
	}

	var tr httpResponse
	if err := bencode.Unmarshal(resp.Body, &tr); err != nil {
		return nil, fmt.Errorf("tracker: decoding HTTP response: %w", err)
	}
	if tr.Failure != "" {
		return nil, fmt.Errorf("tracker: %s reported failure: %s", u.Host, tr.Failure)
	}

	return parseCompactPeers([]byte(tr.Peers))
}
