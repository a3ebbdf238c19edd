// Package thumbnail composes the images of a Bluesky post into a single
// preview image for embed cards.
//
// Chat platforms show one picture per card, so multi-image posts are laid
// out into a grid with a blurred fill behind any letterboxing.
package thumbnail

import (
	"bytes"
	"errors"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"vxsky/internal/logging"
)

// MaxImages is the most images a Bluesky post can carry.
const MaxImages = 4

var (
	// ErrNoImages is returned when the input slice is empty.
	ErrNoImages = errors.New("thumbnail: no images to compose")
	// ErrTooManyImages is returned for more than MaxImages inputs.
	ErrTooManyImages = errors.New("thumbnail: too many images, maximum is 4")
)

// backgroundBlurSigma controls how strongly the fill behind padded images
// is blurred.
const backgroundBlurSigma = 50.0

// Compose combines 1-4 images into a single PNG.
//
// A lone image is encoded unchanged. For multiple images the padded grid is
// drawn over a stretched-and-blurred version of the same grid, so the gaps
// left by aspect-ratio padding show a soft echo of the pictures instead of
// transparent holes.
func Compose(images []image.Image) ([]byte, error) {
	switch {
	case len(images) == 0:
		return nil, ErrNoImages
	case len(images) > MaxImages:
		return nil, ErrTooManyImages
	case len(images) == 1:
		return encodePNG(images[0])
	}

	totalWidth, totalHeight := canvasSize(images)

	combined := combine(images, totalWidth, totalHeight, true)
	background := imaging.Blur(combine(images, totalWidth, totalHeight, false), backgroundBlurSigma)
	final := imaging.Overlay(background, combined, image.Pt(0, 0), 1.0)

	return encodePNG(final)
}

// GatedCard renders the plain dark card served for posts whose author only
// allows signed-in viewers. Rendered once at startup instead of shipping a
// binary asset.
func GatedCard(width, height int) ([]byte, error) {
	card := imaging.New(width, height, color.NRGBA{R: 22, G: 30, B: 41, A: 255})

	// A slightly lighter centered panel so the card reads as intentional
	// rather than as a broken image.
	panel := imaging.New(width*3/4, height/2, color.NRGBA{R: 40, G: 51, B: 64, A: 255})
	offset := image.Pt((width-panel.Bounds().Dx())/2, (height-panel.Bounds().Dy())/2)

	return encodePNG(imaging.Overlay(card, panel, offset, 1.0))
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// canvasSize derives the output dimensions from the largest input: two
// images sit side by side, three or four use a two-row canvas.
func canvasSize(images []image.Image) (int, int) {
	largest := largestImage(images)
	width := largest.Bounds().Dx()
	height := largest.Bounds().Dy()

	switch len(images) {
	case 1:
		return width, height
	case 2:
		return width * 2, height
	default:
		return width * 2, height * 2
	}
}

// combine lays the images out on a transparent canvas. With pad set, each
// image keeps its aspect ratio and is centered in its cell; otherwise it is
// stretched to fill the cell exactly.
func combine(images []image.Image, totalWidth, totalHeight int, pad bool) *image.NRGBA {
	canvas := imaging.New(totalWidth, totalHeight, color.NRGBA{})

	largest := largestImage(images)
	cellWidth := largest.Bounds().Dx()
	cellHeight := largest.Bounds().Dy()

	scaled := scaleAll(images, cellWidth, cellHeight, pad)

	switch len(scaled) {
	case 2:
		canvas = layoutRow(canvas, scaled, 0)
	case 3:
		canvas = layoutRow(canvas, scaled[:2], 0)
		// The third image gets the whole bottom row, scaled to the full
		// canvas width at the shared cell height.
		bottom := scaleOne(scaled[2], totalWidth, cellHeight, pad)
		canvas = layoutRow(canvas, []image.Image{bottom}, cellHeight)
	case 4:
		canvas = layoutRow(canvas, scaled[:2], 0)
		canvas = layoutRow(canvas, scaled[2:], cellHeight)
	}

	return canvas
}

// layoutRow overlays images left to right starting at the given vertical
// offset.
func layoutRow(canvas *image.NRGBA, images []image.Image, yOffset int) *image.NRGBA {
	xOffset := 0
	for _, img := range images {
		logging.L().Debug("overlaying image",
			zap.Int("x", xOffset),
			zap.Int("y", yOffset),
		)
		canvas = imaging.Overlay(canvas, img, image.Pt(xOffset, yOffset), 1.0)
		xOffset += img.Bounds().Dx()
	}
	return canvas
}

// largestImage returns the input with the most pixels.
func largestImage(images []image.Image) image.Image {
	largest := images[0]
	most := 0
	for _, img := range images {
		pixels := img.Bounds().Dx() * img.Bounds().Dy()
		if pixels > most {
			most = pixels
			largest = img
		}
	}
	return largest
}

// scaleAll scales every image to the same cell size.
func scaleAll(images []image.Image, width, height int, pad bool) []image.Image {
	scaled := make([]image.Image, len(images))
	for i, img := range images {
		scaled[i] = scaleOne(img, width, height, pad)
	}
	return scaled
}

// scaleOne scales an image to the target cell. Padded scaling keeps the
// aspect ratio, resizes with Lanczos and centers the result on a
// transparent cell; unpadded scaling stretches with a Gaussian resample.
func scaleOne(img image.Image, targetWidth, targetHeight int, pad bool) image.Image {
	if !pad {
		return imaging.Resize(img, targetWidth, targetHeight, imaging.Gaussian)
	}

	width := img.Bounds().Dx()
	height := img.Bounds().Dy()

	aspect := float64(width) / float64(height)
	var newWidth, newHeight int
	if aspect > float64(targetWidth)/float64(targetHeight) {
		newWidth = targetWidth
		newHeight = int(float64(targetWidth) / aspect)
	} else {
		newWidth = int(float64(targetHeight) * aspect)
		newHeight = targetHeight
	}

	resized := imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)

	cell := imaging.New(targetWidth, targetHeight, color.NRGBA{})
	offset := image.Pt((targetWidth-newWidth)/2, (targetHeight-newHeight)/2)
	return imaging.Overlay(cell, resized, offset, 1.0)
}
