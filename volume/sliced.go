package volume

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/janelia-flyem/ngshow/ngshow"
)

// Slice is a numpy-like half-open range along one axis.  Missing bounds select to the
// beginning or end of the axis and negative bounds count from the end.
type Slice struct {
	Start, Stop       int64
	HasStart, HasStop bool
}

// ParseSlices parses expressions like "10:20,:,-5:" or "3,:" into per-axis slices.
// A bare index i selects i:i+1 so the axis is kept.  Steps other than 1 are rejected.
func ParseSlices(expr string) ([]Slice, error) {
	expr = strings.TrimSpace(expr)
	expr = strings.TrimPrefix(expr, "[")
	expr = strings.TrimSuffix(expr, "]")
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	parts := strings.Split(expr, ",")
	slices := make([]Slice, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		fields := strings.Split(part, ":")
		if len(fields) > 3 {
			return nil, fmt.Errorf("bad slice %q", part)
		}
		if len(fields) == 3 {
			if step := strings.TrimSpace(fields[2]); step != "" && step != "1" {
				return nil, fmt.Errorf("slice %q has step %s; only unit steps are supported", part, step)
			}
			fields = fields[:2]
		}
		var s Slice
		if len(fields) == 1 {
			v, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad index %q: %v", part, err)
			}
			s = Slice{Start: v, Stop: v + 1, HasStart: true, HasStop: true}
			if v == -1 {
				s.HasStop = false
			}
		} else {
			if f := strings.TrimSpace(fields[0]); f != "" {
				v, err := strconv.ParseInt(f, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("bad slice start %q: %v", part, err)
				}
				s.Start, s.HasStart = v, true
			}
			if f := strings.TrimSpace(fields[1]); f != "" {
				v, err := strconv.ParseInt(f, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("bad slice stop %q: %v", part, err)
				}
				s.Stop, s.HasStop = v, true
			}
		}
		slices[i] = s
	}
	return slices, nil
}

// resolve returns the clamped [start, end) of the slice along an axis of given extent.
func (s Slice) resolve(extent int64) (start, end int64) {
	start, end = 0, extent
	if s.HasStart {
		start = s.Start
		if start < 0 {
			start += extent
		}
	}
	if s.HasStop {
		end = s.Stop
		if end < 0 {
			end += extent
		}
	}
	clamp := func(v int64) int64 {
		if v < 0 {
			return 0
		}
		if v > extent {
			return extent
		}
		return v
	}
	start, end = clamp(start), clamp(end)
	if end < start {
		end = start
	}
	return
}

// Sliced is a lazily cropped view of another Array.
type Sliced struct {
	base       Array
	start, end ngshow.PointNd
}

// NewSliced crops base by the given slices.  Axes without a slice are kept whole.
func NewSliced(base Array, slices []Slice) (*Sliced, error) {
	shape := base.Shape()
	if len(slices) > len(shape) {
		return nil, fmt.Errorf("%d slices given for array of rank %d", len(slices), len(shape))
	}
	start := make(ngshow.PointNd, len(shape))
	end := shape.Duplicate()
	for d, s := range slices {
		start[d], end[d] = s.resolve(shape[d])
	}
	return &Sliced{base: base, start: start, end: end}, nil
}

func (s *Sliced) DataType() DataType {
	return s.base.DataType()
}

func (s *Sliced) Shape() ngshow.PointNd {
	size, _ := s.start.Size(s.end)
	return size
}

func (s *Sliced) VoxelSize() ngshow.NdFloat64 {
	return s.base.VoxelSize()
}

// Offset shifts the base offset by the cropped voxels along each spatial axis.
func (s *Sliced) Offset() ngshow.NdFloat64 {
	voxelSize := s.base.VoxelSize()
	baseOffset := s.base.Offset()
	channels := len(s.start) - len(voxelSize)
	offset := make(ngshow.NdFloat64, len(voxelSize))
	for i := range voxelSize {
		offset[i] = baseOffset[i] + float64(s.start[channels+i])*voxelSize[i]
	}
	return offset
}

func (s *Sliced) ReadRegion(ctx context.Context, start, end ngshow.PointNd) ([]byte, error) {
	if err := CheckRegion(s.Shape(), start, end); err != nil {
		return nil, err
	}
	baseStart := make(ngshow.PointNd, len(start))
	baseEnd := make(ngshow.PointNd, len(end))
	for d := range start {
		baseStart[d] = start[d] + s.start[d]
		baseEnd[d] = end[d] + s.start[d]
	}
	return s.base.ReadRegion(ctx, baseStart, baseEnd)
}
