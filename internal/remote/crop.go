package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pavelanni/gabarito/internal/model"
)

// MaxCropBytes bounds the image returned by the crop service. Larger
// replies are rejected rather than cut short.
const MaxCropBytes = 20 << 20

// CropName is the file name given to cropped answer grids.
const CropName = "gabarito_crop.png"

// Crop asks the crop service for the answer-bubble region of a scanned sheet.
func (c *Client) Crop(ctx context.Context, f model.File) (model.File, error) {
	const endpoint = "crop"
	resp, err := c.postFile(ctx, c.cropURL+"/crop-gabarito", endpoint, f)
	if err != nil {
		return model.File{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxCropBytes+1))
	if err != nil {
		return model.File{}, fmt.Errorf("%s: read: %w", endpoint, err)
	}
	if len(data) > MaxCropBytes {
		return model.File{}, fmt.Errorf("%s: image larger than %d bytes", endpoint, MaxCropBytes)
	}
	if len(data) == 0 {
		return model.File{}, fmt.Errorf("%s: empty image", endpoint)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		ct = http.DetectContentType(data)
	}
	return model.File{Name: CropName, ContentType: ct, Data: data}, nil
}

// BubbleReply is the crop-OCR answer. Older deployments send recognized text
// instead of the answers array.
type BubbleReply struct {
	Answers  []string `json:"respostas"`
	Text     string   `json:"text"`
	FullText string   `json:"fullText"`
}

// HasAnswers reports whether the reply carries the answers array.
func (r BubbleReply) HasAnswers() bool { return r.Answers != nil }

// RawText returns whichever text field was filled.
func (r BubbleReply) RawText() string {
	if r.Text != "" {
		return r.Text
	}
	return r.FullText
}

// RecognizeAnswers reads the marked bubbles of a cropped answer grid.
func (c *Client) RecognizeAnswers(ctx context.Context, crop model.File) (BubbleReply, error) {
	const endpoint = "crop-ocr"
	resp, err := c.postFile(ctx, c.cropURL+"/corrigir-bolhas", endpoint, crop)
	if err != nil {
		return BubbleReply{}, err
	}
	var out BubbleReply
	if err := decodeJSON(resp, endpoint, &out); err != nil {
		return BubbleReply{}, err
	}
	for i, a := range out.Answers {
		out.Answers[i] = strings.ToUpper(strings.TrimSpace(a))
	}
	return out, nil
}
