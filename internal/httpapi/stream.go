package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/streamforge/gateway/internal/gateway"
	"github.com/streamforge/gateway/internal/masterplaylist"
)

const (
	contentTypeHLSPlaylist = "application/vnd.apple.mpegurl"
	contentTypeHLSSegment  = "video/MP2T"
	contentTypeFMP4Segment = "video/mp4"
)

// StreamHandlers are the raw chi handlers that serve binary HLS artifacts.
// They are deliberately NOT registered through Huma: Huma commits the HTTP
// status code before the handler body runs, which is incompatible with
// streaming a file whose existence and readiness this handler must check
// first and respond to with 202/404/200 accordingly.
type StreamHandlers struct {
	paths           gateway.Paths
	orchestrator    *gateway.Orchestrator
	playlists       *gateway.PlaylistCache
	manifest        *gateway.Manifest
	masterBuilder   *masterplaylist.Builder
	videoSourceDir  string
	segmentDuration int
	hwEnabled       bool
}

// NewStreamHandlers wires the raw streaming routes to the core.
func NewStreamHandlers(paths gateway.Paths, orchestrator *gateway.Orchestrator, playlists *gateway.PlaylistCache, manifest *gateway.Manifest, masterBuilder *masterplaylist.Builder, videoSourceDir string, segmentDuration int, hwEnabled bool) *StreamHandlers {
	return &StreamHandlers{
		paths:           paths,
		orchestrator:    orchestrator,
		playlists:       playlists,
		manifest:        manifest,
		masterBuilder:   masterBuilder,
		videoSourceDir:  videoSourceDir,
		segmentDuration: segmentDuration,
		hwEnabled:       hwEnabled,
	}
}

// Register mounts every route from §6 onto router.
func (h *StreamHandlers) Register(router chi.Router) {
	router.Get("/api/stream/{id}/master.m3u8", h.serveMasterPlaylist)
	router.Get("/api/stream/{id}/{variant}/playlist.m3u8", h.servePlaylist)
	router.Get("/api/stream/{id}/{variant}/iframe_playlist.m3u8", h.serveIframePlaylist)
	router.Get("/api/stream/{id}/{variant}/{seg}", h.serveSegment)
	router.Get("/api/stream/{id}/audio/track_{track}/playlist.m3u8", h.serveAudioPlaylist)
	router.Get("/api/stream/{id}/audio/track_{track}/{seg}", h.serveAudioSegment)
	router.Get("/api/stream/{id}/audio/audio_stereo/playlist.m3u8", h.serveAudioPlaylist)
	router.Get("/api/stream/{id}/audio/audio_stereo/{seg}", h.serveAudioSegment)
}

func clientIDFromRequest(r *http.Request) gateway.ClientId {
	return gateway.HashClientID(r.RemoteAddr, r.Header.Get("User-Agent"))
}

func (h *StreamHandlers) resolveSourcePath(videoId gateway.VideoId) (string, error) {
	matches, err := filepath.Glob(filepath.Join(h.videoSourceDir, string(videoId)+".*"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", os.ErrNotExist
	}
	return matches[0], nil
}

func (h *StreamHandlers) serveMasterPlaylist(w http.ResponseWriter, r *http.Request) {
	videoId := gateway.SanitizeVideoID(chi.URLParam(r, "id"))
	sourcePath, err := h.resolveSourcePath(videoId)
	if err != nil {
		http.Error(w, "unknown video", http.StatusNotFound)
		return
	}

	playlist, err := h.masterBuilder.Build(r.Context(), videoId, sourcePath)
	if err != nil {
		http.Error(w, "building master playlist", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentTypeHLSPlaylist)
	setNoCacheHeaders(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(playlist)
}

func (h *StreamHandlers) servePlaylist(w http.ResponseWriter, r *http.Request) {
	videoId := gateway.SanitizeVideoID(chi.URLParam(r, "id"))
	variant := gateway.NormalizeVariantLabel(chi.URLParam(r, "variant"))
	forceVOD := r.URL.Query().Get("playlistType") == "VOD"

	raw, result, err := h.playlists.GetPlaylist(r.Context(), videoId, variant, forceVOD)
	if err != nil {
		http.Error(w, "reading playlist", http.StatusInternalServerError)
		return
	}
	if result == gateway.PlaylistNotReady {
		// Kick off warm-up: ensure segment 0 exists so the playlist appears soon.
		go h.warmUp(videoId, gateway.Variant{Label: variant}, gateway.KindVideo)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", contentTypeHLSPlaylist)
	setNoCacheHeaders(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *StreamHandlers) serveIframePlaylist(w http.ResponseWriter, r *http.Request) {
	videoId := gateway.SanitizeVideoID(chi.URLParam(r, "id"))
	variant := gateway.NormalizeVariantLabel(chi.URLParam(r, "variant"))

	raw, result, err := h.playlists.GetIframePlaylist(r.Context(), videoId, variant)
	if err != nil {
		http.Error(w, "reading playlist", http.StatusInternalServerError)
		return
	}
	if result == gateway.PlaylistNotReady {
		go h.warmUp(videoId, gateway.Variant{Label: variant}, gateway.KindVideo)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", contentTypeHLSPlaylist)
	setNoCacheHeaders(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *StreamHandlers) serveAudioPlaylist(w http.ResponseWriter, r *http.Request) {
	label := audioVariantLabel(r)
	videoId := gateway.SanitizeVideoID(chi.URLParam(r, "id"))
	forceVOD := r.URL.Query().Get("playlistType") == "VOD"

	raw, result, err := h.playlists.GetPlaylist(r.Context(), videoId, label, forceVOD)
	if err != nil {
		http.Error(w, "reading playlist", http.StatusInternalServerError)
		return
	}
	if result == gateway.PlaylistNotReady {
		go h.warmUp(videoId, gateway.Variant{Label: label, Kind: gateway.KindAudio}, gateway.KindAudio)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", contentTypeHLSPlaylist)
	setNoCacheHeaders(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// audioVariantLabel reconstructs the VariantLabel from the audio routes'
// track_<i>[_<codec>] or audio_stereo path segments (§6).
func audioVariantLabel(r *http.Request) gateway.VariantLabel {
	if track := chi.URLParam(r, "track"); track != "" {
		return gateway.NormalizeVariantLabel("audio_" + track)
	}
	return "audio_stereo"
}

func (h *StreamHandlers) serveSegment(w http.ResponseWriter, r *http.Request) {
	videoId := gateway.SanitizeVideoID(chi.URLParam(r, "id"))
	variant := gateway.NormalizeVariantLabel(chi.URLParam(r, "variant"))
	h.ensureAndServe(w, r, videoId, gateway.Variant{Label: variant, Kind: gateway.KindVideo}, chi.URLParam(r, "seg"))
}

func (h *StreamHandlers) serveAudioSegment(w http.ResponseWriter, r *http.Request) {
	videoId := gateway.SanitizeVideoID(chi.URLParam(r, "id"))
	label := audioVariantLabel(r)
	h.ensureAndServe(w, r, videoId, gateway.Variant{Label: label, Kind: gateway.KindAudio}, chi.URLParam(r, "seg"))
}

func (h *StreamHandlers) ensureAndServe(w http.ResponseWriter, r *http.Request, videoId gateway.VideoId, variant gateway.Variant, segFile string) {
	segment, isIframe, ok := parseSegmentFile(segFile)
	if !ok {
		http.Error(w, "invalid segment name", http.StatusNotFound)
		return
	}

	sourcePath, err := h.resolveSourcePath(videoId)
	if err != nil {
		http.Error(w, "unknown video", http.StatusNotFound)
		return
	}

	// The I-frame-only file is written by the same encoder process as the
	// regular segment (§6), so ensuring the regular segment is enough to
	// guarantee its iframe_ companion has also landed.
	regularPath, err := h.orchestrator.EnsureSegment(r.Context(), gateway.EnsureRequest{
		ClientId:    clientIDFromRequest(r),
		VideoId:     videoId,
		Variant:     variant,
		SourcePath:  sourcePath,
		Segment:     segment,
		UseHardware: h.hwEnabled,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrNotReady) || errors.Is(err, gateway.ErrResourceExhausted) {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	path := regularPath
	if isIframe {
		path = h.paths.IframeSegmentPath(videoId, variant.Label, segment, "ts")
	}
	serveFile(w, r, path)
}

// warmUp triggers segment 0 so a playlist materializes for a client whose
// first request is to the playlist route rather than a segment route.
func (h *StreamHandlers) warmUp(videoId gateway.VideoId, variant gateway.Variant, kind gateway.VariantKind) {
	sourcePath, err := h.resolveSourcePath(videoId)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, _ = h.orchestrator.EnsureSegment(ctx, gateway.EnsureRequest{
		ClientId:   "warmup",
		VideoId:    videoId,
		Variant:    variant,
		SourcePath: sourcePath,
		Segment:    0,
	})
}

func parseSegmentFile(name string) (gateway.SegmentIndex, bool, bool) {
	isIframe := strings.HasPrefix(name, "iframe_")
	name = strings.TrimPrefix(name, "iframe_")
	ext := filepath.Ext(name)
	if ext != ".ts" && ext != ".m4s" {
		return 0, false, false
	}
	numPart := strings.TrimSuffix(name, ext)
	n, err := strconv.Atoi(numPart)
	if err != nil || n < 0 {
		return 0, false, false
	}
	return gateway.SegmentIndex(n), isIframe, true
}

func serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "segment not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	contentType := contentTypeHLSSegment
	if strings.HasSuffix(path, ".m4s") {
		contentType = contentTypeFMP4Segment
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	setNoCacheHeaders(w)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

func setNoCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}
