package resources

import (
	"bytes"
	"fmt"

	"github.com/BeamMP/BeamMP-Server/gameerr"
	"github.com/BeamMP/BeamMP-Server/protocol"
)

// doneMarker is the literal byte sequence spec.md §4.4 names explicitly
// ("Done (bytes 0x44 0x6F 0x6E 0x65)").
var doneMarker = []byte("Done")

// frameWriter is the subset of *session.Session the sync loop needs; kept
// as an interface so tests can drive it without a real socket.
type frameWriter interface {
	BlockingReadFrame() ([]byte, error)
	WriteFrame([]byte) error
}

// RunSync drives a session through spec.md §4.4 while it is in
// SyncingResources: replying to `SR` with the catalog, streaming
// first-halves for `f<path>` requests, and exiting on `Done` or an empty
// frame. On a clean exit it sends `M<map-name>` and returns nil; the
// caller is responsible for the Active transition (spec.md §4.10) and for
// registering the session with the rest of the gameplay state, since
// handshake tasks must not touch shared gameplay state directly (spec.md
// §5 item 1).
func RunSync(sess frameWriter, catalog *Catalog, progress *Progress, playerID uint8, mapName string) error {
	for {
		payload, err := sess.BlockingReadFrame()
		if err != nil {
			return err
		}
		if len(payload) == 0 || bytes.Equal(payload, doneMarker) {
			break
		}

		switch {
		case bytes.Equal(payload, []byte("SR")):
			if err := sess.WriteFrame(catalog.CatalogFrame()); err != nil {
				return err
			}
		case len(payload) > 1 && payload[0] == 'f':
			if err := serveFile(sess, catalog, progress, playerID, string(payload[1:])); err != nil {
				return err
			}
		default:
			return gameerr.New(gameerr.Protocol, "resources.sync.unknown", fmt.Errorf("unrecognized sync request %q", payload))
		}
	}

	return sess.WriteFrame(protocol.MapFrame(mapName))
}

// serveFile implements the `f<path>` step: reply `AG`, then stream the
// file's first half as one raw length-prefixed frame, recording a
// progress cursor for the `'D'`-path downloader to pick up the rest.
func serveFile(sess frameWriter, catalog *Catalog, progress *Progress, playerID uint8, path string) error {
	realPath, size, err := catalog.Resolve(path)
	if err != nil {
		return err
	}

	if err := sess.WriteFrame([]byte("AG")); err != nil {
		return err
	}

	half, err := ReadFirstHalf(realPath, size)
	if err != nil {
		return err
	}
	if err := sess.WriteFrame(half); err != nil {
		return err
	}

	progress.Set(playerID, realPath, int64(len(half)))
	return nil
}
