// Package isoi converts the intrinsic signal optical imaging pictures taken
// to locate auditory cortex.
package isoi

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/convert"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

const (
	RawImageFile       = "BloodvesselPattern.tiff"
	ProcessedImageFile = "IOS_imageOverlaidFinal.jpg"
)

// Interface reads the two images of one imaging folder.
type Interface struct {
	dir    string
	logger *slog.Logger
}

// New checks that dir holds both images.
func New(dir string, logger *slog.Logger) (*Interface, error) {
	for _, name := range []string{RawImageFile, ProcessedImageFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("intrinsic signal imaging: %w", err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interface{dir: dir, logger: logger.With("interface", "isoi")}, nil
}

func (i *Interface) DescribeDefaults(md *metadata.Metadata) error {
	if md.ISOI.Module.Name == "" {
		md.ISOI.Module = metadata.Module{Name: "intrinsic_signal_optical_imaging", Description: "Intrinsic signal optical imaging."}
	}
	if md.ISOI.Images.Name == "" {
		md.ISOI.Images = metadata.Named{Name: "Images", Description: "Intrinsic signal optical images."}
	}
	return nil
}

func (i *Interface) Append(f *nwb.File, md *metadata.Metadata) error {
	raw, err := readImage(filepath.Join(i.dir, RawImageFile), tiff.Decode)
	if err != nil {
		return err
	}
	processed, err := readImage(filepath.Join(i.dir, ProcessedImageFile), jpeg.Decode)
	if err != nil {
		return err
	}
	i.logger.Debug("Read imaging pictures", "raw", raw.Bounds().Size(), "processed", processed.Bounds().Size())
	cfg := md.ISOI
	images := &nwb.Images{
		Name:        cfg.Images.Name,
		Description: cfg.Images.Description,
		Images: []*nwb.Image{
			{Name: cfg.RawImage.Name, Description: cfg.RawImage.Description, Data: grayscale(raw)},
			{Name: cfg.ProcessedImage.Name, Description: cfg.ProcessedImage.Description, Data: rgb(processed)},
		},
	}
	if err := f.ProcessingModule(cfg.Module.Name, cfg.Module.Description).Add(images); err != nil {
		return err
	}
	return convert.AddDevices(f, cfg.Devices)
}

func readImage(path string, decode func(r io.Reader) (image.Image, error)) (image.Image, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	img, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// grayscale returns an HxW array. 16-bit images keep their depth.
func grayscale(img image.Image) nwb.Data {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	if g, ok := img.(*image.Gray16); ok {
		out := make([]uint16, 0, h*w)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out = append(out, g.Gray16At(x, y).Y)
			}
		}
		return &nwb.Array[uint16]{Values: out, Dims: []int{h, w}}
	}
	out := make([]uint8, 0, h*w)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = append(out, color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}
	return &nwb.Array[uint8]{Values: out, Dims: []int{h, w}}
}

// rgb returns an HxWx3 array of 8-bit channels.
func rgb(img image.Image) nwb.Data {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	out := make([]uint8, 0, h*w*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out = append(out, c.R, c.G, c.B)
		}
	}
	return &nwb.Array[uint8]{Values: out, Dims: []int{h, w, 3}}
}
