package snapshot

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func decodedSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("expected jpeg format, got %s", format)
	}
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestEncodeDownscales(t *testing.T) {
	frame := encodeJPEG(createTestImage(1280, 720, color.White))

	out, err := Encode(frame, Options{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	w, h := decodedSize(t, out)
	if w != 640 || h != 360 {
		t.Errorf("size = %dx%d, want 640x360", w, h)
	}
}

func TestEncodeKeepsSmallFrames(t *testing.T) {
	frame := encodeJPEG(createTestImage(320, 240, color.Gray{Y: 128}))

	out, err := New(Options{}).Encode(frame)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	w, h := decodedSize(t, out)
	if w != 320 || h != 240 {
		t.Errorf("size = %dx%d, want 320x240", w, h)
	}
}

func TestEncodePassesThroughUndecodable(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 0xFF, 0xDB, 0x01, 0x02, 0x03}

	out, err := Encode(frame, Options{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(out, frame) {
		t.Error("undecodable frame was modified")
	}
}

func TestEncodeEmpty(t *testing.T) {
	if _, err := Encode(nil, Options{}); err != ErrEmptyFrame {
		t.Errorf("err = %v, want ErrEmptyFrame", err)
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, maxW, maxH int
		wantW, wantH     int
	}{
		{640, 480, 640, 480, 640, 480},
		{1920, 1080, 640, 480, 640, 360},
		{480, 960, 640, 480, 240, 480},
		{100, 50, 640, 480, 100, 50},
		{4000, 1, 640, 480, 640, 1},
	}

	for _, tt := range tests {
		w, h := fit(tt.w, tt.h, tt.maxW, tt.maxH)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("fit(%d, %d, %d, %d) = %dx%d, want %dx%d",
				tt.w, tt.h, tt.maxW, tt.maxH, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	opt := Options{Quality: 150}.withDefaults()
	if opt.MaxWidth != DefaultMaxWidth || opt.MaxHeight != DefaultMaxHeight || opt.Quality != DefaultQuality {
		t.Errorf("withDefaults() = %+v", opt)
	}
}
