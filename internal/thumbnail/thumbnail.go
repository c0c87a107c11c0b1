// Package thumbnail renders the small preview shown next to an uploaded
// answer sheet or essay.
package thumbnail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"strings"
	"sync"

	_ "image/jpeg"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/pavelanni/gabarito/internal/model"
)

// MaxWidth is the preview width in pixels.
const MaxWidth = 250

// Scale decodes a JPEG or PNG image and shrinks it to at most maxWidth
// pixels wide, keeping the aspect ratio. The result is PNG encoded.
func Scale(data []byte, maxWidth int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return scaleImage(src, maxWidth)
}

func scaleImage(src image.Image, maxWidth int) ([]byte, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxWidth {
		h = max(1, h*maxWidth/w)
		w = maxWidth
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	faceOnce sync.Once
	face     font.Face
	faceErr  error
)

func labelFace() (font.Face, error) {
	faceOnce.Do(func() {
		f, err := truetype.Parse(goregular.TTF)
		if err != nil {
			faceErr = fmt.Errorf("parse font: %w", err)
			return
		}
		face = truetype.NewFace(f, &truetype.Options{Size: 18, DPI: 72, Hinting: font.HintingNone})
	})
	return face, faceErr
}

// Placeholder draws a page card with a label, used for PDFs that cannot be
// rendered.
func Placeholder(label, caption string, width int) ([]byte, error) {
	ff, err := labelFace()
	if err != nil {
		return nil, err
	}
	height := width * 4 / 3
	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetColor(color.NRGBA{R: 0x9c, G: 0xa3, B: 0xaf, A: 0xff})
	dc.SetLineWidth(2)
	dc.DrawRectangle(1, 1, float64(width-2), float64(height-2))
	dc.Stroke()

	dc.SetFontFace(ff)
	dc.SetColor(color.NRGBA{R: 0xb9, G: 0x1c, B: 0x1c, A: 0xff})
	dc.DrawStringAnchored(label, float64(width)/2, float64(height)/2, 0.5, 0.5)
	if caption != "" {
		dc.SetColor(color.NRGBA{R: 0x37, G: 0x41, B: 0x51, A: 0xff})
		dc.DrawStringWrapped(caption, float64(width)/2, float64(height)*3/4, 0.5, 0.5, float64(width-16), 1.2, gg.AlignCenter)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL embeds a PNG in a data URL.
func DataURL(pngData []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
}

// ForFile returns the preview of an upload as a data URL. Images are
// scaled and PDFs show their first page; a PDF that cannot be rendered gets
// a placeholder card with the file name.
func ForFile(f model.File) (string, error) {
	var (
		out []byte
		err error
	)
	if strings.HasPrefix(f.ContentType, "application/pdf") {
		if out, err = FirstPage(f.Data, MaxWidth); err != nil {
			slog.Warn("pdf preview unavailable", "file", f.Name, "error", err)
			out, err = Placeholder("PDF", f.Name, MaxWidth)
		}
	} else {
		out, err = Scale(f.Data, MaxWidth)
	}
	if err != nil {
		return "", err
	}
	return DataURL(out), nil
}
