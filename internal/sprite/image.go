package sprite

import (
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"

	"github.com/google/renameio/v2"
	"golang.org/x/image/draw"

	"github.com/maka00/recorder/engine"
)

// bytesPerPixel for the raw formats the generator accepts.
var bytesPerPixel = map[string]int{
	"RGB":  3,
	"RGBA": 4,
	"RGBx": 4,
	"BGRx": 4,
	"BGRA": 4,
}

// ToRGBA copies a raw frame into a new image.RGBA.
//
// Rows may be padded (GStreamer aligns RGB rows to 4 bytes), so the stride is
// derived from the buffer length.
func ToRGBA(f engine.Frame) (*image.RGBA, error) {
	format := f.Format
	if format == "" {
		format = "RGB"
	}
	bpp, ok := bytesPerPixel[format]
	if !ok {
		return nil, fmt.Errorf("unsupported raw format %q", format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}

	rowBytes := f.Width * bpp
	if len(f.Data)%f.Height != 0 || len(f.Data)/f.Height < rowBytes {
		return nil, fmt.Errorf("invalid %s data size: got %d, expected at least %d",
			format, len(f.Data), rowBytes*f.Height)
	}
	stride := len(f.Data) / f.Height

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Data[y*stride : y*stride+rowBytes]
		dst := img.Pix[y*img.Stride : y*img.Stride+f.Width*4]
		for x := 0; x < f.Width; x++ {
			s := src[x*bpp : x*bpp+bpp]
			d := dst[x*4 : x*4+4]
			switch format {
			case "RGB":
				d[0], d[1], d[2], d[3] = s[0], s[1], s[2], 255
			case "RGBA":
				d[0], d[1], d[2], d[3] = s[0], s[1], s[2], s[3]
			case "RGBx":
				d[0], d[1], d[2], d[3] = s[0], s[1], s[2], 255
			case "BGRx":
				d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 255
			case "BGRA":
				d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
			}
		}
	}
	return img, nil
}

// centerSlice downscales src to height h preserving aspect ratio and returns
// the w pixels wide vertical slice from its horizontal center.
func centerSlice(src image.Image, w, h int) *image.RGBA {
	b := src.Bounds()
	scaledW := b.Dx() * h / b.Dy()
	if scaledW < 1 {
		scaledW = 1
	}
	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, h))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, b, draw.Src, nil)

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	x0 := (scaledW - w) / 2
	if x0 < 0 {
		// Narrower than the slice: center it and leave the margins black
		draw.Draw(out, image.Rect(-x0, 0, -x0+scaledW, h), scaled, image.Point{}, draw.Src)
		return out
	}
	draw.Draw(out, out.Bounds(), scaled, image.Pt(x0, 0), draw.Src)
	return out
}

// hconcat lays out tiles left to right in cells of cellW x cellH. Tiles of a
// different size are scaled into their cell.
func hconcat(tiles []*image.RGBA, cellW, cellH int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, cellW*len(tiles), cellH))
	for i, tile := range tiles {
		cell := image.Rect(i*cellW, 0, (i+1)*cellW, cellH)
		if tile.Bounds().Dx() == cellW && tile.Bounds().Dy() == cellH {
			draw.Draw(out, cell, tile, tile.Bounds().Min, draw.Src)
			continue
		}
		draw.ApproxBiLinear.Scale(out, cell, tile, tile.Bounds(), draw.Src, nil)
	}
	return out
}

// writeJPEG encodes img to path atomically: temp file, fsync, rename.
func writeJPEG(path string, img image.Image, quality int) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending %s: %w", filepath.Base(path), err)
	}
	defer pending.Cleanup()

	if err := jpeg.Encode(pending, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
