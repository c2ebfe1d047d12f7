package gateway

import (
	"fmt"
	"path/filepath"
)

// Paths resolves deterministic on-disk locations for a video's segment
// output tree, rooted at an HLS output directory.
type Paths struct {
	Root string
}

// NewPaths returns a Paths resolver rooted at root.
func NewPaths(root string) Paths {
	return Paths{Root: root}
}

// VideoDir returns the per-video root directory.
func (p Paths) VideoDir(id VideoId) string {
	return filepath.Join(p.Root, string(id))
}

// CodecReferencePath returns the path to a video's shared codec_reference.json.
func (p Paths) CodecReferencePath(id VideoId) string {
	return filepath.Join(p.VideoDir(id), "codec_reference.json")
}

// VariantDir returns the per-(video,variant) output directory.
func (p Paths) VariantDir(id VideoId, label VariantLabel) string {
	return filepath.Join(p.VideoDir(id), string(NormalizeVariantLabel(string(label))))
}

// SegmentPath returns segmentPath(v, lbl, i) per §4.1: <root>/sanitize(v)/lbl/<pad3(i)>.<ext>.
func (p Paths) SegmentPath(id VideoId, label VariantLabel, i SegmentIndex, ext string) string {
	return filepath.Join(p.VariantDir(id, label), fmt.Sprintf("%03d.%s", int(i), ext))
}

// IframeSegmentPath returns the path to a segment's companion I-frame-only
// file, written by the same encoder process alongside the regular segment
// (§6 iframe_playlist.m3u8 routes reference these rather than a separately
// transcoded variant).
func (p Paths) IframeSegmentPath(id VideoId, label VariantLabel, i SegmentIndex, ext string) string {
	return filepath.Join(p.VariantDir(id, label), fmt.Sprintf("iframe_%03d.%s", int(i), ext))
}

// PlaylistPath returns the variant's playlist.m3u8 path.
func (p Paths) PlaylistPath(id VideoId, label VariantLabel) string {
	return filepath.Join(p.VariantDir(id, label), "playlist.m3u8")
}

// IframePlaylistPath returns the variant's iframe_playlist.m3u8 path, the
// I-frame trick-play playlist the encoder writes alongside playlist.m3u8.
func (p Paths) IframePlaylistPath(id VideoId, label VariantLabel) string {
	return filepath.Join(p.VariantDir(id, label), "iframe_playlist.m3u8")
}

// LockPath returns the variant's session.lock path.
func (p Paths) LockPath(id VideoId, label VariantLabel) string {
	return filepath.Join(p.VariantDir(id, label), "session.lock")
}

// DonePath returns the variant's done marker path.
func (p Paths) DonePath(id VideoId, label VariantLabel) string {
	return filepath.Join(p.VariantDir(id, label), "done")
}

// InfoPath returns the variant's info manifest path: info.json for video,
// audio_info.json for audio.
func (p Paths) InfoPath(id VideoId, label VariantLabel, kind VariantKind) string {
	name := "info.json"
	if kind == KindAudio {
		name = "audio_info.json"
	}
	return filepath.Join(p.VariantDir(id, label), name)
}
