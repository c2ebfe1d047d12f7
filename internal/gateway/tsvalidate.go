package gateway

import (
	"context"
	"fmt"
	"os"

	"github.com/asticode/go-astits"

	"github.com/streamforge/gateway/internal/codec"
)

// TSValidator confirms a freshly-stabilized MPEG-TS segment demuxes
// cleanly before the Variant Manifest (C7) probes it, catching the case
// where an encoder's rename-on-complete left a truncated or zero-PAT file
// that happens to pass the size-stability check. Grounded on the teacher's
// internal/codec stream-type registry (internal/codec/codec.go) for
// classifying the PMT's elementary stream types.
type TSValidator struct{}

// NewTSValidator creates a TSValidator.
func NewTSValidator() *TSValidator {
	return &TSValidator{}
}

// ValidateSegment reads path's PAT/PMT and reports whether it demuxes as
// well-formed MPEG-TS with at least one recognized elementary stream. A
// failure to open the file is returned as an error; a demux or parse
// failure is treated as "not yet valid" rather than a hard error, since a
// still-being-written file can transiently fail to parse.
func (v *TSValidator) ValidateSegment(ctx context.Context, path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("tsvalidate: opening %s: %w", path, err)
	}
	defer f.Close()

	dmx := astits.NewDemuxer(ctx, f)
	for i := 0; i < 64; i++ {
		data, err := dmx.NextData()
		if err != nil {
			return false, nil
		}
		if data.PMT == nil {
			continue
		}
		for _, es := range data.PMT.ElementaryStreams {
			if recognizedStreamType(uint8(es.StreamType)) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

func recognizedStreamType(streamType uint8) bool {
	switch streamType {
	case codec.StreamTypeH264, codec.StreamTypeH265,
		codec.StreamTypeAAC, codec.StreamTypeAC3, codec.StreamTypeEAC3, codec.StreamTypeMP3:
		return true
	default:
		return false
	}
}
