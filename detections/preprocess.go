package detections

import (
	"image"
	"os"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Tensor is a channel-interleaved (RGBRGB...) row-major buffer of
// size*size*3 values in [0,1].
type Tensor struct {
	Data []float32
	Size int
}

// Preprocess loads the image at path, stretches it to size x size and
// normalizes every channel byte to v/255.
func Preprocess(path string, size int) (Tensor, error) {
	img, err := loadImage(path)
	if err != nil {
		return Tensor{}, err
	}
	return packTensor(resize(img, size)), nil
}

func loadImage(path string) (image.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, newError(ErrImageRead, StagePreprocess, err, "stat %s", path)
	}
	if info.Size() == 0 {
		return nil, newError(ErrImageEmpty, StagePreprocess, nil, "%s has zero length", path)
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, newError(ErrImageRead, StagePreprocess, err, "decode %s", path)
	}
	return img, nil
}

// resize stretches img to size x size; aspect ratio is not preserved.
func resize(img image.Image, size int) *image.NRGBA {
	return imaging.Resize(img, size, size, imaging.Linear)
}

// parallelRows is the image height above which packing is split across
// workers.
const parallelRows = 64

// packTensor interleaves the RGB bytes of resized into [0,1] floats. Tall
// images are packed by GOMAXPROCS workers, each owning a band of rows.
func packTensor(resized *image.NRGBA) Tensor {
	size := resized.Bounds().Dx()
	data := make([]float32, size*size*channels)

	workers := runtime.GOMAXPROCS(0)
	if size < parallelRows || workers < 2 {
		packRows(data, resized, size, 0, size)
		return Tensor{Data: data, Size: size}
	}

	band := (size + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < size; start += band {
		end := start + band
		if end > size {
			end = size
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			packRows(data, resized, size, start, end)
		}(start, end)
	}
	wg.Wait()

	return Tensor{Data: data, Size: size}
}

func packRows(data []float32, img *image.NRGBA, size, from, to int) {
	for y := from; y < to; y++ {
		src := img.Pix[y*img.Stride:]
		dst := data[y*size*channels:]
		for x := 0; x < size; x++ {
			// NRGBA is 4 bytes per pixel, alpha is dropped.
			dst[x*channels] = float32(src[x*4]) / 255.0
			dst[x*channels+1] = float32(src[x*4+1]) / 255.0
			dst[x*channels+2] = float32(src[x*4+2]) / 255.0
		}
	}
}
