// Package metainfo parses .torrent files into the TorrentInfo record the
// rest of the client operates on: piece hashes, piece length, total length,
// announce endpoints, and the computed info-hash.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	bencode "github.com/jackpal/bencode-go"
)

// rawFile is the bencoded root dictionary of a .torrent file, decoded
// loosely enough to cover both single-file and multi-file layouts.
type rawFile struct {
	Announce     string         `bencode:"announce"`
	AnnounceList [][]string     `bencode:"announce-list"`
	Info         rawInfo        `bencode:"info"`
	Comment      string         `bencode:"comment"`
	CreatedBy    string         `bencode:"created by"`
}

type rawInfo struct {
	PieceLength int64          `bencode:"piece length"`
	Pieces      string         `bencode:"pieces"`
	Name        string         `bencode:"name"`
	Length      int64          `bencode:"length"`
	Files       []rawFileEntry `bencode:"files"`
}

type rawFileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// FileEntry describes one file's span within the single contiguous payload,
// used only for output offset bookkeeping (see Non-goals: no multi-file
// splitting beyond this).
type FileEntry struct {
	Path   string
	Length int64
	Offset int64
}

// TorrentInfo is the immutable-during-a-run metainfo record described in
// the data model: info-hash, ordered piece hashes, piece length, total
// length, and the announce URL(s).
type TorrentInfo struct {
	InfoHash     [20]byte
	PieceHashes  [][20]byte
	PieceLength  int64
	TotalLength  int64
	Announce     string
	AnnounceList [][]string
	Name         string
	Files        []FileEntry
}

// NumPieces returns the piece count implied by the piece-hash table.
func (t *TorrentInfo) NumPieces() int {
	return len(t.PieceHashes)
}

// PieceLengthAt returns the byte length of piece i: PieceLength for every
// piece but the last, whose length is the remainder of TotalLength.
func (t *TorrentInfo) PieceLengthAt(i int) int64 {
	if i == t.NumPieces()-1 {
		last := t.TotalLength - int64(i)*t.PieceLength
		if last > 0 {
			return last
		}
	}
	return t.PieceLength
}

// Parse reads and validates a .torrent file at path, returning its
// TorrentInfo. Errors here are MetainfoError-class: malformed bencode,
// missing keys, or a pieces blob not a multiple of 20 bytes.
func Parse(path string) (*TorrentInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metainfo: reading %q: %w", path, err)
	}

	var raw rawFile
	if err := bencode.Unmarshal(bytes.NewReader(data), &raw); err != nil {
		return nil, fmt.Errorf("metainfo: decoding bencode: %w", err)
	}

	if len(raw.Info.Pieces)%20 != 0 {
		return nil, fmt.Errorf("metainfo: pieces blob length %d not a multiple of 20", len(raw.Info.Pieces))
	}

	infoBytes, err := extractInfoBytes(data)
	if err != nil {
		return nil, fmt.Errorf("metainfo: locating info dictionary: %w", err)
	}
	infoHash := sha1.Sum(infoBytes)

	numPieces := len(raw.Info.Pieces) / 20
	hashes := make([][20]byte, numPieces)
	for i := range hashes {
		copy(hashes[i][:], raw.Info.Pieces[i*20:(i+1)*20])
	}

	info := &TorrentInfo{
		InfoHash:     infoHash,
		PieceHashes:  hashes,
		PieceLength:  raw.Info.PieceLength,
		Announce:     raw.Announce,
		AnnounceList: raw.AnnounceList,
		Name:         raw.Info.Name,
	}

	if len(raw.Info.Files) == 0 {
		info.TotalLength = raw.Info.Length
		info.Files = []FileEntry{{Path: raw.Info.Name, Length: raw.Info.Length, Offset: 0}}
	} else {
		var offset int64
		for _, f := range raw.Info.Files {
			info.Files = append(info.Files, FileEntry{
				Path:   filepath.Join(append([]string{raw.Info.Name}, f.Path...)...),
				Length: f.Length,
				Offset: offset,
			})
			offset += f.Length
		}
		info.TotalLength = offset
	}

	if info.TotalLength > int64(numPieces)*info.PieceLength {
		return nil, fmt.Errorf("metainfo: total length %d exceeds %d pieces of length %d",
			info.TotalLength, numPieces, info.PieceLength)
	}
	if numPieces > 1 && info.TotalLength <= int64(numPieces-1)*info.PieceLength {
		return nil, fmt.Errorf("metainfo: total length %d too small for %d pieces of length %d",
			info.TotalLength, numPieces, info.PieceLength)
	}

	return info, nil
}

// extractInfoBytes locates the bencoded "info" dictionary within the raw
// .torrent bytes so its SHA-1 can be computed independent of field
// ordering performed by the decoder.
func extractInfoBytes(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("4:info"))
	if idx < 0 {
		return nil, fmt.Errorf("no \"4:info\" key found")
	}

	start := idx + len("4:info")
	depth := 0

	for i := start; i < len(data); i++ {
		switch b := data[i]; b {
		case 'd', 'l':
			depth++
		case 'e':
			depth--
			if depth == 0 {
				return data[start : i+1], nil
			}
		case 'i':
			j := i + 1
			for ; j < len(data) && data[j] != 'e'; j++ {
			}
			if j >= len(data) {
				return nil, fmt.Errorf("unterminated integer at %d", i)
			}
			i = j
		default:
			if b >= '0' && b <= '9' {
				j := i
				for ; j < len(data) && data[j] >= '0' && data[j] <= '9'; j++ {
				}
				if j < len(data) && data[j] == ':' {
					length, err := strconv.Atoi(string(data[i:j]))
					if err != nil {
						return nil, fmt.Errorf("invalid string length at %d-%d", i, j)
					}
					j++
					i = j + length - 1
				}
			}
		}
	}

	return nil, fmt.Errorf("unterminated info dictionary")
}
