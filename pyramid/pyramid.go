package pyramid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/janelia-flyem/ngshow/ngshow"
	"github.com/janelia-flyem/ngshow/volume"
)

// Construction errors.
var (
	ErrNoSources        = errors.New("scale pyramid needs at least one source")
	ErrDimMismatch      = errors.New("sources differ in dimensionality")
	ErrNonIntegralScale = errors.New("voxel size is not an integral multiple of the finest voxel size")
	ErrNoReference      = errors.New("no source at the finest resolution along every axis")
	ErrDuplicateScale   = errors.New("more than one source at the same scale")
)

// Query errors.  These never change the state of a pyramid.
var (
	ErrBadScaleKey     = errors.New("malformed scale key")
	ErrScaleDims       = errors.New("scale key has wrong dimensionality")
	ErrNoEligibleScale = errors.New("no source can be downsampled to the requested scale")
)

type level struct {
	key    ScaleKey
	source volume.Source
}

// Pyramid is a volume.Source that dispatches each query to the best of several
// differently-downsampled sources of the same volume.
type Pyramid struct {
	dims         int
	minVoxelSize ngshow.NdFloat64
	maxVoxelSize ngshow.NdFloat64

	levels    []level // sorted by key
	reference volume.Source
}

var _ volume.Source = (*Pyramid)(nil)

// New builds a pyramid over the given sources.  Every source must have a voxel size that
// is an integral multiple of the elementwise minimum voxel size, exactly one source must
// be at that minimum, and no two sources may share a scale.
func New(sources ...volume.Source) (*Pyramid, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	dims := len(sources[0].VoxelSize())
	minVoxelSize := append(ngshow.NdFloat64{}, sources[0].VoxelSize()...)
	maxVoxelSize := append(ngshow.NdFloat64{}, sources[0].VoxelSize()...)
	for i, src := range sources {
		voxelSize := src.VoxelSize()
		if len(voxelSize) != dims {
			return nil, fmt.Errorf("%w: source %d has %d axes, source 0 has %d", ErrDimMismatch, i, len(voxelSize), dims)
		}
		for d, v := range voxelSize {
			if v <= 0 {
				return nil, fmt.Errorf("%w: source %d has voxel size %g along axis %d", ErrNonIntegralScale, i, v, d)
			}
		}
		minVoxelSize = minVoxelSize.Min(voxelSize)
		maxVoxelSize = maxVoxelSize.Max(voxelSize)
	}

	p := &Pyramid{
		dims:         dims,
		minVoxelSize: minVoxelSize,
		maxVoxelSize: maxVoxelSize,
		levels:       make([]level, 0, len(sources)),
	}
	seen := make(map[string]int, len(sources))
	for i, src := range sources {
		key, err := deriveKey(src.VoxelSize(), minVoxelSize)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if j, found := seen[key.String()]; found {
			return nil, fmt.Errorf("%w: sources %d and %d both have scale %s", ErrDuplicateScale, j, i, key)
		}
		seen[key.String()] = i
		if key.IsIdentity() {
			p.reference = src
		}
		p.levels = append(p.levels, level{key: key, source: src})
	}
	if p.reference == nil {
		return nil, fmt.Errorf("%w: minimum voxel size %s", ErrNoReference, minVoxelSize)
	}
	sort.Slice(p.levels, func(i, j int) bool {
		return p.levels[i].key.Less(p.levels[j].key)
	})

	ngshow.Debugf("Created scale pyramid with min voxel size %s, max voxel size %s, scales: %s\n",
		minVoxelSize, maxVoxelSize, strings.Join(p.keyStrings(), " "))
	return p, nil
}

func (p *Pyramid) keyStrings() []string {
	strs := make([]string, len(p.levels))
	for i, l := range p.levels {
		strs[i] = "(" + l.key.String() + ")"
	}
	return strs
}

func (p *Pyramid) String() string {
	return fmt.Sprintf("scale pyramid with %d scales %s", len(p.levels), strings.Join(p.keyStrings(), " "))
}

// Dims returns the number of axes of every source.
func (p *Pyramid) Dims() int {
	return p.dims
}

func (p *Pyramid) MinVoxelSize() ngshow.NdFloat64 {
	return append(ngshow.NdFloat64{}, p.minVoxelSize...)
}

func (p *Pyramid) MaxVoxelSize() ngshow.NdFloat64 {
	return append(ngshow.NdFloat64{}, p.maxVoxelSize...)
}

// Keys returns the scale of every source in lexicographic order.
func (p *Pyramid) Keys() []ScaleKey {
	keys := make([]ScaleKey, len(p.levels))
	for i, l := range p.levels {
		keys[i] = append(ScaleKey{}, l.key...)
	}
	return keys
}

// Source returns the source at exactly the given scale.
func (p *Pyramid) Source(key ScaleKey) (volume.Source, bool) {
	for _, l := range p.levels {
		if l.key.Equal(key) {
			return l.source, true
		}
	}
	return nil, false
}

// Reference returns the source with the identity scale.
func (p *Pyramid) Reference() volume.Source {
	return p.reference
}

// Resolve picks the source for a requested scale.  Among sources whose key divides the
// request along every axis by a power of two, it chooses the one whose largest residual factor is smallest,
// breaking ties by the lexicographically smallest key.  A nil request means identity.
func (p *Pyramid) Resolve(requested ScaleKey) (chosen, residual ScaleKey, err error) {
	if requested == nil {
		requested = IdentityKey(p.dims)
	}
	if len(requested) != p.dims {
		return nil, nil, fmt.Errorf("%w: key %s for %d-d pyramid", ErrScaleDims, requested, p.dims)
	}
	var best int64
	for _, l := range p.levels {
		rel, worst, ok := requested.relativeTo(l.key)
		if !ok {
			continue
		}
		if chosen == nil || worst < best {
			chosen, residual, best = l.key, rel, worst
		}
	}
	if chosen == nil {
		return nil, nil, fmt.Errorf("%w: %s with available scales %s", ErrNoEligibleScale, requested, strings.Join(p.keyStrings(), " "))
	}
	return append(ScaleKey{}, chosen...), residual, nil
}

// Info returns the reference source's descriptor with the maximum downsampling set to
// the product over axes of the coarsest available factor.
func (p *Pyramid) Info() (*volume.Info, error) {
	ref, err := p.reference.Info()
	if err != nil {
		return nil, err
	}
	info := *ref
	info.MaxDownsampling = p.maxDownsampling()
	return &info, nil
}

func (p *Pyramid) maxDownsampling() int64 {
	prod := int64(1)
	for d := 0; d < p.dims; d++ {
		prod *= floorRatio(p.maxVoxelSize[d] / p.minVoxelSize[d])
	}
	return prod
}

// EncodedSubvolume forwards the request to the source chosen by Resolve, passing the
// residual factors that source must apply.  The result is returned unchanged.
func (p *Pyramid) EncodedSubvolume(ctx context.Context, format volume.Format, start, end ngshow.PointNd, factors []int64) ([]byte, error) {
	chosen, residual, err := p.Resolve(ScaleKey(factors))
	if err != nil {
		return nil, err
	}
	src, _ := p.Source(chosen)
	ngshow.Debugf("Scale %s resolved to source at scale %s with residual %s\n", ScaleKey(factors), chosen, residual)
	return src.EncodedSubvolume(ctx, format, start, end, []int64(residual))
}

// EncodedSubvolumeKey is EncodedSubvolume with the scale in wire form.  An empty key
// means identity.
func (p *Pyramid) EncodedSubvolumeKey(ctx context.Context, format volume.Format, start, end ngshow.PointNd, key string) ([]byte, error) {
	var requested ScaleKey
	if strings.TrimSpace(key) != "" {
		var err error
		if requested, err = ParseScaleKey(key); err != nil {
			return nil, err
		}
	}
	return p.EncodedSubvolume(ctx, format, start, end, []int64(requested))
}

func (p *Pyramid) ObjectMesh(ctx context.Context, id uint64) ([]byte, error) {
	return p.reference.ObjectMesh(ctx, id)
}

func (p *Pyramid) Invalidate() uint64 {
	return p.reference.Invalidate()
}

func (p *Pyramid) VolumeType() volume.VolumeType {
	return p.reference.VolumeType()
}

func (p *Pyramid) Token() string {
	return p.reference.Token()
}

func (p *Pyramid) VoxelSize() ngshow.NdFloat64 {
	return p.MinVoxelSize()
}

func (p *Pyramid) Rank() int {
	return p.reference.Rank()
}
