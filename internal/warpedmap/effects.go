package warpedmap

import "image/color"

// RemoveColor configures chroma-key style removal of one color from a
// map's rendered output. Threshold is the maximum color distance (in
// [0, 1] of the full RGB cube diagonal) still considered a match;
// Hardness controls how abrupt the cutoff is versus a soft falloff
// across the threshold, mirroring the hardness/threshold pair a
// fragment-shader based rasterizer exposes as uniforms.
type RemoveColor struct {
	Color     color.RGBA
	Threshold float64
	Hardness  float64
}

// Effects are the per-map rendering uniforms a rasterizer back-end
// reads every frame: opacity and saturation multipliers, an optional
// solid colorize tint, an optional RemoveColor chroma key, and a debug
// grid overlay toggle. The zero value is not a usable default — use
// DefaultEffects (Opacity 1, Saturation 1, everything else off).
type Effects struct {
	Opacity     float64
	Saturation  float64
	Colorize    *color.RGBA
	RemoveColor *RemoveColor
	Grid        bool
}

// DefaultEffects returns the effects uniforms applied to a map that has
// not been configured otherwise: full opacity, natural saturation, no
// colorize or chroma key, no grid overlay.
func DefaultEffects() Effects {
	return Effects{Opacity: 1, Saturation: 1}
}
