package gateway

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// playlistStabilityTries bounds the quick two-sample stability check
// GetPlaylist/GetIframePlaylist run before serving a playlist: unlike a
// segment, a VOD playlist keeps growing for as long as its encoder runs, so
// this only guards against reading a file mid-write, not waiting for the
// encoder to finish.
const playlistStabilityTries = 2

// PlaylistResult is the outcome of a playlist read, distinguishing "not
// ready yet" from a hard miss so the HTTP layer can choose 202 vs 404.
type PlaylistResult int

const (
	PlaylistOK PlaylistResult = iota
	PlaylistNotReady
)

const eventPlaylistTag = "#EXT-X-PLAYLIST-TYPE:EVENT"
const vodPlaylistTag = "#EXT-X-PLAYLIST-TYPE:VOD"

// PlaylistCache implements the Playlist Cache (C12): a read-through cache
// of variant playlists with on-demand VOD/EVENT tag rewrite. It never
// mutates the on-disk file.
type PlaylistCache struct {
	paths Paths
	store *Store
}

// NewPlaylistCache creates a PlaylistCache over paths and store.
func NewPlaylistCache(paths Paths, store *Store) *PlaylistCache {
	return &PlaylistCache{paths: paths, store: store}
}

// GetPlaylist returns playlist bytes for (videoId, variant). When
// forceVOD is true (the `playlistType=VOD` query option), any
// #EXT-X-PLAYLIST-TYPE:EVENT tag is rewritten to VOD in the returned
// bytes only.
func (c *PlaylistCache) GetPlaylist(ctx context.Context, videoId VideoId, variant VariantLabel, forceVOD bool) ([]byte, PlaylistResult, error) {
	path := c.paths.PlaylistPath(videoId, variant)
	if !c.store.Exists(path) {
		return nil, PlaylistNotReady, nil
	}
	if c.store.WaitForStability(ctx, path, playlistStabilityTries) != StabilityOK {
		return nil, PlaylistNotReady, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, PlaylistNotReady, nil
		}
		return nil, PlaylistNotReady, fmt.Errorf("playlist: reading %s: %w", path, err)
	}

	if forceVOD {
		raw = ensureVODTag(raw)
	}

	return raw, PlaylistOK, nil
}

// ensureVODTag rewrites an EVENT tag to VOD, or inserts a VOD tag right
// after the #EXTM3U header when the playlist carries neither, so that
// `playlistType=VOD` always yields bytes declaring VOD (§8).
func ensureVODTag(raw []byte) []byte {
	s := string(raw)
	switch {
	case strings.Contains(s, eventPlaylistTag):
		return []byte(strings.Replace(s, eventPlaylistTag, vodPlaylistTag, 1))
	case strings.Contains(s, vodPlaylistTag):
		return raw
	default:
		const header = "#EXTM3U"
		idx := strings.Index(s, header)
		if idx < 0 {
			return []byte(vodPlaylistTag + "\n" + s)
		}
		insertAt := idx + len(header)
		return []byte(s[:insertAt] + "\n" + vodPlaylistTag + s[insertAt:])
	}
}

// GetIframePlaylist returns the I-frame trick-play playlist for (videoId,
// variant), written by the encoder alongside the regular playlist.
func (c *PlaylistCache) GetIframePlaylist(ctx context.Context, videoId VideoId, variant VariantLabel) ([]byte, PlaylistResult, error) {
	path := c.paths.IframePlaylistPath(videoId, variant)
	if !c.store.Exists(path) {
		return nil, PlaylistNotReady, nil
	}
	if c.store.WaitForStability(ctx, path, playlistStabilityTries) != StabilityOK {
		return nil, PlaylistNotReady, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, PlaylistNotReady, nil
		}
		return nil, PlaylistNotReady, fmt.Errorf("playlist: reading %s: %w", path, err)
	}
	return raw, PlaylistOK, nil
}
