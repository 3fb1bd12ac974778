package presence

import (
	"fmt"
	"math"
	"math/rand/v2"
)

const (
	colorSaturation = 100
	colorLightness  = 50
)

// HueSource returns a value in [0, 1) used to pick a hue.
type HueSource func() float64

// RandomHue draws hues from the process-wide random source.
func RandomHue() float64 {
	return rand.Float64()
}

// ColorFor formats the color token for a hue fraction in [0, 1).
func ColorFor(fraction float64) string {
	hue := math.Round(fraction*3600) / 10
	if hue < 0 || hue >= 360 {
		hue = 0
	}
	return fmt.Sprintf("hsl(%.1f, %d%%, %d%%)", hue, colorSaturation, colorLightness)
}
