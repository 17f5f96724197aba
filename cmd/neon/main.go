// Command neon is a BitTorrent leech client: given a metainfo file, it
// downloads every piece of the advertised content and writes the
// assembled payload to a local file.
package main

import (
	"fmt"
	"os"

	"neon/torrent/coordinator"
	"neon/torrent/identity"
	"neon/torrent/logx"
	"neon/torrent/metainfo"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: neon <torrent_path> <output_path>\n")
		os.Exit(1)
	}

	torrentPath, outputPath := os.Args[1], os.Args[2]

	info, err := metainfo.Parse(torrentPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "neon: %v\n", err)
		os.Exit(1)
	}

	local := identity.New()
	logx.Info("parsed %q: %d pieces, %d bytes, info-hash %x", info.Name, info.NumPieces(), info.TotalLength, info.InfoHash)

	c := coordinator.New(info, local)
	if err := c.Run(outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "neon: %v\n", err)
		os.Exit(1)
	}

	logx.Info("download complete: %s", outputPath)
}
