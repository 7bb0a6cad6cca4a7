// Package synthetic renders deterministic stand-ins for generated text and
// images. It backs local and CI environments that have no provider key.
package synthetic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	"github.com/tkendall99/bedtime-solved/internal/providers"
)

const imageSize = 512

// ImageGenerator returns a patterned PNG seeded from the prompt and reference.
type ImageGenerator struct{}

func NewImageGenerator() *ImageGenerator { return &ImageGenerator{} }

func (g *ImageGenerator) GenerateImage(ctx context.Context, req providers.ImageRequest) (providers.Image, error) {
	if err := ctx.Err(); err != nil {
		return providers.Image{}, err
	}
	seed := deterministicSeed(req.Prompt, len(req.Reference), hashBytes(req.Reference))
	data, err := renderImage(imageSize, imageSize, seed)
	if err != nil {
		return providers.Image{}, err
	}
	return providers.Image{Data: data, MIMEType: "image/png"}, nil
}

// TextGenerator answers story prompts with a short JSON story built from the
// "- Name:" and "- Interests:" lines of the user prompt.
type TextGenerator struct{}

func NewTextGenerator() *TextGenerator { return &TextGenerator{} }

func (g *TextGenerator) GenerateText(ctx context.Context, req providers.TextRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := promptField(req.User, "Name")
	if name == "" {
		name = "Our Hero"
	}
	interest := strings.TrimSpace(strings.Split(promptField(req.User, "Interests"), ",")[0])
	if interest == "" {
		interest = "stars"
	}
	story := map[string]string{
		"title":              fmt.Sprintf("%s and the %s Adventure", name, titleWord(interest)),
		"page1Text":          fmt.Sprintf("%s peeks out the window and spots something about %s glowing in the night. Tonight, a brand new adventure is about to begin!", name, interest),
		"illustrationPrompt": fmt.Sprintf("%s at a bedroom window at night, looking out at a glowing scene of %s, cozy and magical", name, interest),
	}
	out, err := json.Marshal(story)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func promptField(prompt, field string) string {
	prefix := "- " + field + ":"
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func renderImage(width, height int, seed string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripe := max(16, height/12)
	for y := 0; y < height; y += stripe * 2 {
		band := image.Rect(0, y, width, min(height, y+stripe))
		draw.Draw(img, band, &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	diagonal := colorFromSeed(seed, 2)
	for x := 0; x < width; x += max(16, width/32) {
		for y := 0; y < height && x+y < width; y++ {
			img.Set(x+y, y, diagonal)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode synthetic png: %w", err)
	}
	return buf.Bytes(), nil
}

func colorFromSeed(seed string, shift int) color.RGBA {
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{R: hexByte(segment[0:2]), G: hexByte(segment[2:4]), B: hexByte(segment[4:6]), A: 255}
}

func hexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(hasher, "%v|", part)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

var (
	_ providers.ImageGenerator = (*ImageGenerator)(nil)
	_ providers.TextGenerator  = (*TextGenerator)(nil)
)
