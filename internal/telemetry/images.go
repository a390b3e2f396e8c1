package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Slot identifies a camera or map image.
type Slot string

// Image slots published by the robot-side process.
const (
	SlotMobileRGB   Slot = "mobile_rgb"
	SlotMobileDepth Slot = "mobile_depth"
	SlotHandRGB     Slot = "hand_rgb"
	SlotHandDepth   Slot = "hand_depth"
	SlotMap         Slot = "map"
)

// Slots lists every known slot in display order.
func Slots() []Slot {
	return []Slot{SlotMobileRGB, SlotHandRGB, SlotMap, SlotMobileDepth, SlotHandDepth}
}

// Known reports whether s is part of the slot vocabulary.
func (s Slot) Known() bool {
	switch s {
	case SlotMobileRGB, SlotMobileDepth, SlotHandRGB, SlotHandDepth, SlotMap:
		return true
	}
	return false
}

// ImageBundle maps a slot to its last received encoded image (for example a
// data URI). Bundles are treated as immutable; MergeImages returns a copy.
type ImageBundle map[Slot]string

// ImageFrame is one decoded image-channel payload. Images holds only known
// slots that carried a non-empty string.
type ImageFrame struct {
	Images map[Slot]string
	// SentAtMS is the server send time in unix milliseconds, when provided.
	SentAtMS *int64
}

type rawImageFrame struct {
	Images   map[string]json.RawMessage `json:"images"`
	SentAtMS *int64                     `json:"server_send_timestamp_ms,omitempty"`
}

// DecodeImages parses one image-channel frame. ok is false when the payload
// has no images key and should be ignored. Unknown slots are skipped without
// looking at their values; null or empty values of known slots mean no change.
func DecodeImages(data []byte) (frame ImageFrame, ok bool, err error) {
	var raw rawImageFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return ImageFrame{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Images == nil {
		return ImageFrame{}, false, nil
	}
	frame = ImageFrame{Images: make(map[Slot]string, len(raw.Images)), SentAtMS: raw.SentAtMS}
	for k, v := range raw.Images {
		slot := Slot(k)
		if !slot.Known() {
			continue
		}
		var uri *string
		if err := json.Unmarshal(v, &uri); err != nil {
			return ImageFrame{}, false, fmt.Errorf("%w: slot %s: %v", ErrMalformed, k, err)
		}
		if uri == nil || *uri == "" {
			continue
		}
		frame.Images[slot] = *uri
	}
	return frame, true, nil
}

// Latency returns the delay between the server send time and now, if the
// frame carries a send timestamp.
func (f ImageFrame) Latency(now time.Time) (time.Duration, bool) {
	if f.SentAtMS == nil {
		return 0, false
	}
	return now.Sub(time.UnixMilli(*f.SentAtMS)), true
}

// MergeImages overlays the known slots of frame onto prev. Unknown or empty
// slots are ignored and slots missing from frame keep their previous image.
func MergeImages(prev ImageBundle, frame ImageFrame) ImageBundle {
	out := make(ImageBundle, len(prev)+len(frame.Images))
	for k, v := range prev {
		out[k] = v
	}
	for slot, v := range frame.Images {
		if !slot.Known() || v == "" {
			continue
		}
		out[slot] = v
	}
	return out
}
