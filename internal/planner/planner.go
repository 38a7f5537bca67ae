// Package planner computes output dimensions for a thumbnail.
package planner

import (
	"fmt"
	"math"

	"github.com/trunov/thumbhub/internal/entities"
)

// Plan returns the dimensions that fit srcW x srcH inside spec without
// distorting it. The scale factor is capped at 1 so small images are never
// upscaled, and each side is rounded to the nearest pixel (never below 1).
//
// Non-positive inputs are a caller bug and cause a panic.
func Plan(srcW, srcH int, spec entities.ThumbnailSpec) entities.ScalePlan {
	if srcW <= 0 || srcH <= 0 || spec.MaxWidth <= 0 || spec.MaxHeight <= 0 {
		panic(fmt.Sprintf("planner: invalid dimensions src=%dx%d box=%dx%d",
			srcW, srcH, spec.MaxWidth, spec.MaxHeight))
	}

	factor := math.Min(1, math.Min(
		float64(spec.MaxWidth)/float64(srcW),
		float64(spec.MaxHeight)/float64(srcH),
	))

	// Nothing to do - the source already fits
	if factor == 1 {
		return entities.ScalePlan{TargetWidth: srcW, TargetHeight: srcH}
	}

	return entities.ScalePlan{
		TargetWidth:  scale(srcW, factor, spec.MaxWidth),
		TargetHeight: scale(srcH, factor, spec.MaxHeight),
	}
}

func scale(side int, factor float64, limit int) int {
	v := int(math.Round(float64(side) * factor))
	if v < 1 {
		return 1
	}
	if v > limit {
		return limit
	}
	return v
}

// Fits reports whether a plan stays inside the bounding box.
func Fits(p entities.ScalePlan, spec entities.ThumbnailSpec) bool {
	return p.TargetWidth >= 1 && p.TargetHeight >= 1 &&
		p.TargetWidth <= spec.MaxWidth && p.TargetHeight <= spec.MaxHeight
}
