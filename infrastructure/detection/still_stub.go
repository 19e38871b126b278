//go:build !detection

package detection

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// decodeDimensions reads the image header with the standard decoders
// when OpenCV is not available (build with -tags=detection to use it)
func decodeDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}
