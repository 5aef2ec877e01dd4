package ecephys

import (
	"fmt"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

const (
	// WhiteMatterHeader is the byte length of the header before the samples.
	WhiteMatterHeader = 8
	// WhiteMatterRate is the default eMouse headstage sampling rate.
	WhiteMatterRate = 25000.0
	// whiteMatterVoltsPerBit is the headstage gain (6.25 mV over the int16 range).
	whiteMatterVoltsPerBit = 6.25e-3 / 32768
)

// WhiteMatter is a raw .bin recording from a WhiteMatter headstage whose
// channels are laid out shank by shank, as on the ASSY-236-P-1 probe.
type WhiteMatter struct {
	raw    *Raw
	rate   float64
	shanks int
}

// OpenWhiteMatter maps path as channels interleaved int16 samples split
// evenly over shanks.
func OpenWhiteMatter(path string, channels int, rate float64, shanks int) (*WhiteMatter, error) {
	if shanks <= 0 || channels%shanks != 0 {
		return nil, fmt.Errorf("%d channels cannot be split over %d shanks", channels, shanks)
	}
	if rate <= 0 {
		rate = WhiteMatterRate
	}
	raw, err := OpenRaw(path, channels, WhiteMatterHeader)
	if err != nil {
		return nil, err
	}
	return &WhiteMatter{raw: raw, rate: rate, shanks: shanks}, nil
}

func (w *WhiteMatter) Name() string        { return "WhiteMatter" }
func (w *WhiteMatter) Rate() float64       { return w.rate }
func (w *WhiteMatter) Samples() int        { return w.raw.Samples() }
func (w *WhiteMatter) Data(n int) nwb.Data { return w.raw.Data(n) }
func (w *WhiteMatter) Close() error        { return w.raw.Close() }

// Timestamps is nil: the headstage samples at a fixed rate from zero.
func (w *WhiteMatter) Timestamps() ([]float64, error) { return nil, nil }

// Channels groups consecutive channels into Shank1, Shank2, ...
func (w *WhiteMatter) Channels() []Channel {
	per := w.raw.Channels() / w.shanks
	out := make([]Channel, w.raw.Channels())
	for i := range out {
		out[i] = Channel{
			Name:       fmt.Sprintf("CH%d", i+1),
			Group:      fmt.Sprintf("Shank%d", i/per+1),
			Conversion: whiteMatterVoltsPerBit,
		}
	}
	return out
}
