package volume

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/janelia-flyem/ngshow/ngshow"
)

var (
	// ErrUnsupportedFormat is returned when a subvolume is requested in a format the
	// source cannot produce.
	ErrUnsupportedFormat = errors.New("unsupported subvolume format")

	// ErrOutOfBounds is returned when a request falls outside the (downsampled) volume.
	ErrOutOfBounds = errors.New("out of bounds data request")

	// ErrBadFactors is returned for downsampling factors of the wrong rank, that are not
	// powers of two, or that exceed the source's maximum downsampling.
	ErrBadFactors = errors.New("invalid downsampling factor")

	// ErrNoMesh is returned when no mesh can be generated for an object.
	ErrNoMesh = errors.New("no mesh available")
)

// Source is the query surface of a chunked volume as seen by a viewer.
type Source interface {
	// Info returns the descriptor of this volume.
	Info() (*Info, error)

	// EncodedSubvolume returns the voxels within [start, end), given in coordinates of
	// the volume downsampled by factors, serialized in the given format.  A nil factors
	// slice means no downsampling.
	EncodedSubvolume(ctx context.Context, format Format, start, end ngshow.PointNd, factors []int64) ([]byte, error)

	// ObjectMesh returns an encoded mesh of the given segment.
	ObjectMesh(ctx context.Context, id uint64) ([]byte, error)

	// Invalidate bumps and returns the generation so clients refetch data.
	Invalidate() uint64

	VolumeType() VolumeType

	// Token uniquely identifies this source within a viewer.
	Token() string

	// VoxelSize returns the physical size of a voxel along each axis.
	VoxelSize() ngshow.NdFloat64

	Rank() int
}

// Identity returns the all-ones factor vector of the given rank.
func Identity(rank int) []int64 {
	f := make([]int64, rank)
	for i := range f {
		f[i] = 1
	}
	return f
}

// IsIdentity returns true if factors is nil or all ones.
func IsIdentity(factors []int64) bool {
	for _, f := range factors {
		if f != 1 {
			return false
		}
	}
	return true
}

// checkFactors expands nil factors to identity and validates rank and range.
func checkFactors(factors []int64, rank int, maxDownsampling int64) ([]int64, error) {
	if factors == nil {
		return Identity(rank), nil
	}
	if len(factors) != rank {
		return nil, fmt.Errorf("%w: %d factors for rank %d volume", ErrBadFactors, len(factors), rank)
	}
	limit := maxDownsampling
	if limit <= 0 {
		limit = math.MaxInt64
	}
	prod := int64(1)
	for d, f := range factors {
		if f < 1 || f&(f-1) != 0 {
			return nil, fmt.Errorf("%w: factor %d along axis %d is not a power of two", ErrBadFactors, f, d)
		}
		// Compare before multiplying so the product never wraps.
		if prod > limit/f {
			return nil, fmt.Errorf("%w: total factor of %v exceeds maximum %d", ErrBadFactors, factors, limit)
		}
		prod *= f
	}
	return factors, nil
}
