//go:build hdf5

package cmd

// Registers the MAT v7.3 and SLEAP decoders and the hdf5 backend.
import _ "github.com/catalystneuro/schneider-lab-to-nwb/internal/hdf5io"
