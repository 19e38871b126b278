//go:build detection

package detection

import (
	"fmt"

	"gocv.io/x/gocv"
)

// decodeDimensions reads the image with OpenCV, which accepts every format
// ffmpeg's image demuxer is likely to see
func decodeDimensions(path string) (int, int, error) {
	img := gocv.IMRead(path, gocv.IMReadUnchanged)
	defer img.Close()

	if img.Empty() {
		return 0, 0, fmt.Errorf("failed to decode image %s", path)
	}
	return img.Cols(), img.Rows(), nil
}
