package vision

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

const (
	// DefaultSize is the square edge the classifier is trained on.
	DefaultSize = 150
	// Channels is the number of colour channels fed to the model.
	Channels = 3
)

// Tensor is a dense NHWC float32 batch.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Sample returns the flat HWC data of the i-th image in the batch.
func (t *Tensor) Sample(i int) []float32 {
	n := len(t.Data) / int(t.Shape[0])
	return t.Data[i*n : (i+1)*n]
}

// Preprocessor turns decoded images into model input tensors.
// Training and serving share one instance type so normalization is identical.
type Preprocessor struct {
	width  int
	height int
}

func NewPreprocessor(size int) *Preprocessor {
	if size <= 0 {
		size = DefaultSize
	}
	return &Preprocessor{width: size, height: size}
}

// Shape is the tensor shape produced by Preprocess.
func (p *Preprocessor) Shape() []int64 {
	return []int64{1, int64(p.height), int64(p.width), Channels}
}

// Preprocess converts img to RGB, stretches it to the target size with
// bilinear sampling, scales intensities by 1/255 and adds a batch dimension.
func (p *Preprocessor) Preprocess(img image.Image) (*Tensor, error) {
	if err := checkBounds(img); err != nil {
		return nil, err
	}
	data := make([]float32, p.width*p.height*Channels)
	p.fill(img, data)
	return &Tensor{Shape: p.Shape(), Data: data}, nil
}

// PreprocessBatch stacks several images into one [n,h,w,3] tensor.
func (p *Preprocessor) PreprocessBatch(imgs []image.Image) (*Tensor, error) {
	if len(imgs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidImage)
	}
	n := p.width * p.height * Channels
	data := make([]float32, n*len(imgs))
	for i, img := range imgs {
		if err := checkBounds(img); err != nil {
			return nil, err
		}
		p.fill(img, data[i*n:(i+1)*n])
	}
	shape := p.Shape()
	shape[0] = int64(len(imgs))
	return &Tensor{Shape: shape, Data: data}, nil
}

func (p *Preprocessor) fill(img image.Image, out []float32) {
	src := toRGB(img)
	dst := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	i := 0
	for y := 0; y < p.height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < p.width; x++ {
			px := row[x*4 : x*4+3]
			out[i] = float32(px[0]) / 255
			out[i+1] = float32(px[1]) / 255
			out[i+2] = float32(px[2]) / 255
			i += 3
		}
	}
}

// toRGB copies the straight (non-premultiplied) colour channels of img into an
// opaque image. Alpha is discarded rather than composited.
func toRGB(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := (y - b.Min.Y) * out.Stride
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.Pix[off+0] = c.R
			out.Pix[off+1] = c.G
			out.Pix[off+2] = c.B
			out.Pix[off+3] = 0xff
			off += 4
		}
	}
	return out
}
