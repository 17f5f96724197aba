package metainfo

import (
	"bytes"
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	bencode "github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/require"

	"github.com/stretchr/testify/assert"
)

// writeTorrentFile bencodes raw and returns the path of a temp .torrent
// file holding it, built through the same encoder the production decoder
// reads, so the "4:info" extraction logic is exercised honestly.
func writeTorrentFile(t *testing.T, raw rawFile) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, bencode.Marshal(&buf, raw))

	dir := t.TempDir()
	path := filepath.Join(dir, "test.torrent")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestParseSingleFileTorrent(t *testing.T) {
	piece := sha1.Sum([]byte("piece-zero-hash-placeholder-"))

	raw := rawFile{
		Announce: "http://tracker.example/announce",
		Info: rawInfo{
			PieceLength: 16384,
			Pieces:      string(piece[:]),
			Name:        "file.bin",
			Length:      16384,
		},
	}

	path := writeTorrentFile(t, raw)

	info, err := Parse(path)
	require.NoError(t, err)

	assert.Equal(t, 1, info.NumPieces())
	assert.EqualValues(t, 16384, info.PieceLength)
	assert.EqualValues(t, 16384, info.TotalLength)
	assert.Equal(t, "http://tracker.example/announce", info.Announce)
	assert.Equal(t, piece, info.PieceHashes[0])
	assert.NotEqual(t, [20]byte{}, info.InfoHash)
}

func TestParseRejectsMisalignedPieces(t *testing.T) {
	raw := rawFile{
		Announce: "http://tracker.example/announce",
		Info: rawInfo{
			PieceLength: 16384,
			Pieces:      "too-short",
			Name:        "file.bin",
			Length:      16384,
		},
	}

	path := writeTorrentFile(t, raw)

	_, err := Parse(path)
	assert.Error(t, err)
}

func TestPieceLengthAtHandlesShortLastPiece(t *testing.T) {
	info := &TorrentInfo{
		PieceLength: 16384,
		TotalLength: 20000,
		PieceHashes: make([][20]byte, 2),
	}

	assert.EqualValues(t, 16384, info.PieceLengthAt(0))
	assert.EqualValues(t, 3616, info.PieceLengthAt(1))
}

func TestMultiFileOffsetBookkeeping(t *testing.T) {
	raw := rawFile{
		Announce: "http://tracker.example/announce",
		Info: rawInfo{
			PieceLength: 16384,
			Pieces:      string(make([]byte, 20)),
			Name:        "multi",
			Files: []rawFileEntry{
				{Length: 1000, Path: []string{"a.txt"}},
				{Length: 2000, Path: []string{"sub", "b.txt"}},
			},
		},
	}

	path := writeTorrentFile(t, raw)

	info, err := Parse(path)
	require.NoError(t, err)

	require.Len(t, info.Files, 2)
	assert.EqualValues(t, 0, info.Files[0].Offset)
	assert.EqualValues(t, 1000, info.Files[1].Offset)
	assert.EqualValues(t, 3000, info.TotalLength)
}
