package camera

import (
	"errors"
	"image"
	"math"

	"github.com/greenscale/greenscale-edge/internal/telemetry"
)

// Sampling grid for metric computation.
const (
	sampleWidth  = 320
	sampleHeight = 180

	defaultContrastScale = 64.0
)

// ErrEmptyFrame is returned for an image with no pixels.
var ErrEmptyFrame = errors.New("camera: empty frame")

// ComputeMetric derives the average colour and a contrast-based turbidity
// index from img.
//
// The frame is sampled on a grid of at most 320x180 points. Turbidity is
// 1 - std(gray)/contrastScale, clamped to [0, 1]: clear water shows more
// contrast than cloudy water.
func ComputeMetric(img image.Image, contrastScale float64) (telemetry.CameraMetric, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return telemetry.CameraMetric{}, ErrEmptyFrame
	}
	if contrastScale <= 0 {
		contrastScale = defaultContrastScale
	}

	outW, outH := min(w, sampleWidth), min(h, sampleHeight)
	n := float64(outW * outH)

	var sumR, sumG, sumB, sumY, sumYY float64
	for sy := 0; sy < outH; sy++ {
		y := b.Min.Y + sy*h/outH
		for sx := 0; sx < outW; sx++ {
			x := b.Min.X + sx*w/outW
			r16, g16, b16, _ := img.At(x, y).RGBA()
			r, g, bl := float64(r16>>8), float64(g16>>8), float64(b16>>8)

			sumR += r
			sumG += g
			sumB += bl

			gray := 0.299*r + 0.587*g + 0.114*bl
			sumY += gray
			sumYY += gray * gray
		}
	}

	avg := telemetry.RGB{
		R: uint8(math.Round(sumR / n)),
		G: uint8(math.Round(sumG / n)),
		B: uint8(math.Round(sumB / n)),
	}

	mean := sumY / n
	variance := math.Max(0, sumYY/n-mean*mean)
	normalised := math.Min(math.Sqrt(variance)/contrastScale, 1)

	return telemetry.NewCameraMetric(avg, 1-normalised), nil
}
