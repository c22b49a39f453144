package ngshow

import (
	"fmt"
	"strconv"
	"strings"
)

// PointNd is an n-dimensional integer coordinate in axis order.
type PointNd []int64

// ParsePointNd parses a comma-separated list of integers like "10,20,-5".
// Whitespace around each value is ignored.
func ParsePointNd(s string) (PointNd, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty point string")
	}
	parts := strings.Split(s, ",")
	pt := make(PointNd, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad coordinate %q in point %q: %v", part, s, err)
		}
		pt[i] = v
	}
	return pt, nil
}

func (p PointNd) NumDims() int {
	return len(p)
}

// String returns the point in the same comma-separated form ParsePointNd accepts.
func (p PointNd) String() string {
	strs := make([]string, len(p))
	for i, v := range p {
		strs[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(strs, ",")
}

// Size returns the per-axis extent between p (inclusive) and end (exclusive).
func (p PointNd) Size(end PointNd) (PointNd, error) {
	if len(p) != len(end) {
		return nil, fmt.Errorf("point %s and %s have different dimensions", p, end)
	}
	size := make(PointNd, len(p))
	for i := range p {
		size[i] = end[i] - p[i]
		if size[i] < 0 {
			return nil, fmt.Errorf("end %s precedes start %s along axis %d", end, p, i)
		}
	}
	return size, nil
}

// Prod returns the product of all coordinates, e.g. the number of voxels for a size.
func (p PointNd) Prod() int64 {
	if len(p) == 0 {
		return 0
	}
	prod := int64(1)
	for _, v := range p {
		prod *= v
	}
	return prod
}

// Duplicate returns a copy of the point.
func (p PointNd) Duplicate() PointNd {
	dup := make(PointNd, len(p))
	copy(dup, p)
	return dup
}

// NdFloat64 is an n-dimensional vector of physical quantities, e.g. voxel sizes in nm.
type NdFloat64 []float64

func (n NdFloat64) String() string {
	strs := make([]string, len(n))
	for i, v := range n {
		strs[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "(" + strings.Join(strs, ",") + ")"
}

// Min returns the elementwise minimum of n and x.
func (n NdFloat64) Min(x NdFloat64) NdFloat64 {
	out := make(NdFloat64, len(n))
	for i := range n {
		out[i] = n[i]
		if x[i] < out[i] {
			out[i] = x[i]
		}
	}
	return out
}

// Max returns the elementwise maximum of n and x.
func (n NdFloat64) Max(x NdFloat64) NdFloat64 {
	out := make(NdFloat64, len(n))
	for i := range n {
		out[i] = n[i]
		if x[i] > out[i] {
			out[i] = x[i]
		}
	}
	return out
}
