// Package snapshot turns a camera frame into the still submitted for recognition.
package snapshot

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

const (
	DefaultMaxWidth  = 640
	DefaultMaxHeight = 480
	DefaultQuality   = 80
)

var ErrEmptyFrame = errors.New("empty frame")

type Options struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func (o Options) withDefaults() Options {
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	return o
}

type Encoder struct {
	opt Options
}

func New(opt Options) *Encoder {
	return &Encoder{opt: opt.withDefaults()}
}

func (e *Encoder) Encode(frame []byte) ([]byte, error) {
	return Encode(frame, e.opt)
}

// Encode fits the frame into MaxWidth x MaxHeight keeping the aspect ratio and
// re-encodes it as JPEG. Frames Go cannot decode, such as MJPEG without
// Huffman tables, are returned unchanged for the service to handle.
func Encode(frame []byte, opt Options) ([]byte, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	opt = opt.withDefaults()

	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return frame, nil
	}

	bounds := img.Bounds()
	w, h := fit(bounds.Dx(), bounds.Dy(), opt.MaxWidth, opt.MaxHeight)
	if w != bounds.Dx() || h != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opt.Quality}); err != nil {
		return nil, errors.Wrap(err, "failed to encode snapshot")
	}
	return buf.Bytes(), nil
}

// fit returns the largest size within maxW x maxH with the aspect ratio of w x h.
// Images already inside the box keep their size.
func fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	var nw, nh int
	if maxW*h <= maxH*w {
		nw, nh = maxW, h*maxW/w
	} else {
		nw, nh = w*maxH/h, maxH
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
