// Package convert defines the contract every per-modality interface
// satisfies and the Converter that drives them for one session.
package convert

import (
	"errors"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/metadata"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/nwb"
)

var (
	// ErrNotAligned is returned when a stream with its own clock reaches
	// Append without having been aligned.
	ErrNotAligned = errors.New("stream not aligned to the session clock")
	// ErrAlreadyRun is returned when a Converter is run twice.
	ErrAlreadyRun = errors.New("converter already run")
)

// Interface reads one raw source type and appends its records to a file.
type Interface interface {
	// DescribeDefaults fills metadata fields the source itself can supply.
	DescribeDefaults(md *metadata.Metadata) error
	// Append reads the source and adds its records to f. It runs at most
	// once per session and keeps no reference to f afterwards.
	Append(f *nwb.File, md *metadata.Metadata) error
}

// TimeAligner is implemented by interfaces whose stream has its own clock.
type TimeAligner interface {
	SetAlignedTimestamps(ts nwb.Data)
	SetTimeOffset(offset float64)
	IsAligned() bool
}

// MetadataValidator is implemented by interfaces that check their metadata
// section before any stage appends.
type MetadataValidator interface {
	ValidateMetadata(md *metadata.Metadata) error
}

// Clock is embedded by interfaces that implement TimeAligner.
type Clock struct {
	timestamps nwb.Data
	offset     float64
	aligned    bool
}

// SetAlignedTimestamps replaces the stream's native timestamps.
func (c *Clock) SetAlignedTimestamps(ts nwb.Data) {
	c.timestamps = ts
	c.aligned = true
}

// SetTimeOffset sets the value subtracted from native timestamps.
func (c *Clock) SetTimeOffset(offset float64) {
	c.offset = offset
	c.aligned = true
}

// MarkAligned records that the native clock already is the session clock.
func (c *Clock) MarkAligned() { c.aligned = true }

func (c *Clock) IsAligned() bool { return c.aligned }

// AlignedTimestamps returns injected timestamps, or nil when only an offset
// was set.
func (c *Clock) AlignedTimestamps() nwb.Data { return c.timestamps }

// TimeOffset is the offset set by SetTimeOffset.
func (c *Clock) TimeOffset() float64 { return c.offset }
