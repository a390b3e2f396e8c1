package robotsim

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"

	"teleop-dash/internal/telemetry"
)

const (
	frameWidth  = 64
	frameHeight = 48
)

// slotTint gives each camera slot a recognisable base colour.
var slotTint = map[telemetry.Slot]color.RGBA{
	telemetry.SlotMobileRGB:   {R: 200, G: 80, B: 40, A: 255},
	telemetry.SlotMobileDepth: {R: 90, G: 90, B: 90, A: 255},
	telemetry.SlotHandRGB:     {R: 40, G: 160, B: 80, A: 255},
	telemetry.SlotHandDepth:   {R: 120, G: 120, B: 160, A: 255},
	telemetry.SlotMap:         {R: 30, G: 60, B: 160, A: 255},
}

// syntheticFrame renders a moving gradient for slot and returns it as a PNG
// data URI.
func syntheticFrame(slot telemetry.Slot, seq int) (string, error) {
	tint := slotTint[slot]
	img := image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))
	band := seq % frameWidth
	for y := 0; y < frameHeight; y++ {
		for x := 0; x < frameWidth; x++ {
			shade := uint8((x + y + seq) % 64)
			c := color.RGBA{R: tint.R/2 + shade, G: tint.G/2 + shade, B: tint.B/2 + shade, A: 255}
			if x == band {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// imageFrame is the payload pushed on /ws/image.
type imageFrame struct {
	Images map[telemetry.Slot]string `json:"images"`
	SentAt int64                     `json:"server_send_timestamp_ms"`
}

func buildImageFrame(seq int, sentAtMS int64) (imageFrame, error) {
	f := imageFrame{Images: make(map[telemetry.Slot]string), SentAt: sentAtMS}
	for _, slot := range telemetry.Slots() {
		uri, err := syntheticFrame(slot, seq)
		if err != nil {
			return imageFrame{}, err
		}
		f.Images[slot] = uri
	}
	return f, nil
}
