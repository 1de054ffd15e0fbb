// Package imaging converts fetched image bytes into model input tensors.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// Preprocess decodes raw image bytes, resizes them to a size x size square
// and returns the RGB channels as a flat float32 tensor in NHWC layout with
// values in [0,255]. The model applies its own input scaling.
func Preprocess(data []byte, size int) ([]float32, error) {
	if size <= 0 {
		return nil, fmt.Errorf("preprocess: invalid size %d", size)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("preprocess: decode image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	tensor := make([]float32, size*size*3)
	i := 0
	for y := 0; y < size; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+size*4]
		for x := 0; x < size; x++ {
			tensor[i] = float32(row[x*4])
			tensor[i+1] = float32(row[x*4+1])
			tensor[i+2] = float32(row[x*4+2])
			i += 3
		}
	}
	return tensor, nil
}
