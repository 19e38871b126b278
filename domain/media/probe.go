package media

import (
	"fmt"
	"strconv"
	"strings"
)

// Rational is a frame rate expressed as numerator/denominator
type Rational struct {
	Num int
	Den int
}

// ParseRational parses "30000/1001", "30/1" or "25" without evaluating expressions
func ParseRational(s string) (Rational, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rational{}, fmt.Errorf("empty rational")
	}
	numStr, denStr, found := strings.Cut(s, "/")
	if !found {
		denStr = "1"
	}
	num, err := strconv.Atoi(strings.TrimSpace(numStr))
	if err != nil {
		return Rational{}, fmt.Errorf("invalid rational %q: %w", s, err)
	}
	den, err := strconv.Atoi(strings.TrimSpace(denStr))
	if err != nil {
		return Rational{}, fmt.Errorf("invalid rational %q: %w", s, err)
	}
	if num <= 0 || den <= 0 {
		return Rational{}, fmt.Errorf("invalid rational %q: must be positive", s)
	}
	return Rational{Num: num, Den: den}, nil
}

// Float returns num/den
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// IsZero reports whether the rational is unset
func (r Rational) IsZero() bool {
	return r.Num == 0 || r.Den == 0
}

// String returns the rational in ffmpeg's num/den form
func (r Rational) String() string {
	if r.Den == 1 {
		return strconv.Itoa(r.Num)
	}
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// StreamInfo is the probed metadata of a media file
type StreamInfo struct {
	Width      int
	Height     int
	FrameRate  Rational
	Duration   float64
	VideoCount int
	AudioCount int
}

// HasAudio reports whether the file carries at least one audio stream
func (s StreamInfo) HasAudio() bool {
	return s.AudioCount > 0
}

// Geometry is the frame size and rate a thumbnail intro is fitted to
type Geometry struct {
	Width     int
	Height    int
	FrameRate Rational
}

// DefaultGeometry is used when the main video cannot be probed
var DefaultGeometry = Geometry{Width: 1080, Height: 1920, FrameRate: Rational{Num: 30, Den: 1}}

// GeometryOr returns the probed geometry, or fallback when any part is missing
func (s StreamInfo) GeometryOr(fallback Geometry) Geometry {
	if s.Width <= 0 || s.Height <= 0 || s.FrameRate.IsZero() {
		return fallback
	}
	return Geometry{Width: s.Width, Height: s.Height, FrameRate: s.FrameRate}
}
