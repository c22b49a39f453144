package pyramid

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/janelia-flyem/ngshow/ngshow"
)

// ScaleTolerance is the relative tolerance used when deciding whether a ratio of voxel
// sizes is an integer.  A ratio q is integral if |q - round(q)| <= ScaleTolerance * max(1, |q|).
const ScaleTolerance = 1e-6

// ScaleKey is the per-axis downsampling factor of a volume relative to the finest
// resolution in a pyramid.
type ScaleKey []int64

// IdentityKey returns the all-ones key of the given rank.
func IdentityKey(dims int) ScaleKey {
	k := make(ScaleKey, dims)
	for i := range k {
		k[i] = 1
	}
	return k
}

// ParseScaleKey parses the wire form of a key, a comma-separated list of non-negative
// integers like "2,2,1".
func ParseScaleKey(s string) (ScaleKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty key", ErrBadScaleKey)
	}
	parts := strings.Split(s, ",")
	k := make(ScaleKey, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: %q", ErrBadScaleKey, s)
		}
		k[i] = v
	}
	return k, nil
}

// String returns the wire form of the key.
func (k ScaleKey) String() string {
	strs := make([]string, len(k))
	for i, v := range k {
		strs[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(strs, ",")
}

func (k ScaleKey) IsIdentity() bool {
	for _, v := range k {
		if v != 1 {
			return false
		}
	}
	return true
}

func (k ScaleKey) Equal(o ScaleKey) bool {
	if len(k) != len(o) {
		return false
	}
	for i := range k {
		if k[i] != o[i] {
			return false
		}
	}
	return true
}

// Less orders keys lexicographically.
func (k ScaleKey) Less(o ScaleKey) bool {
	for i := 0; i < len(k) && i < len(o); i++ {
		if k[i] != o[i] {
			return k[i] < o[i]
		}
	}
	return len(k) < len(o)
}

// relativeTo returns k / c along every axis and the largest such ratio, or ok = false if
// c cannot be downsampled to k.  That is the case if some k[d] is not a positive multiple
// of c[d], or if the multiple is not a power of two, since sources only downsample by the
// power-of-two factors a viewer's levels are built from.
func (k ScaleKey) relativeTo(c ScaleKey) (residual ScaleKey, worst int64, ok bool) {
	residual = make(ScaleKey, len(k))
	for d := range k {
		if k[d]%c[d] != 0 {
			return nil, 0, false
		}
		residual[d] = k[d] / c[d]
		if residual[d] < 1 || residual[d]&(residual[d]-1) != 0 {
			return nil, 0, false
		}
		if residual[d] > worst {
			worst = residual[d]
		}
	}
	return residual, worst, true
}

// integral returns the integer nearest q if q is within ScaleTolerance of it.
func integral(q float64) (int64, bool) {
	r := math.Round(q)
	if math.Abs(q-r) > ScaleTolerance*math.Max(1, math.Abs(q)) {
		return 0, false
	}
	return int64(r), true
}

// floorRatio returns floor(q), treating values within tolerance of an integer as that
// integer so 0.3/0.1 gives 3.
func floorRatio(q float64) int64 {
	if r, ok := integral(q); ok {
		return r
	}
	return int64(math.Floor(q))
}

// deriveKey divides a voxel size by the pyramid's minimum voxel size.
func deriveKey(voxelSize, minVoxelSize ngshow.NdFloat64) (ScaleKey, error) {
	k := make(ScaleKey, len(voxelSize))
	for d := range voxelSize {
		q := voxelSize[d] / minVoxelSize[d]
		v, ok := integral(q)
		if !ok || v < 1 {
			return nil, fmt.Errorf("%w: voxel size %g is %g times the minimum %g along axis %d",
				ErrNonIntegralScale, voxelSize[d], q, minVoxelSize[d], d)
		}
		k[d] = v
	}
	return k, nil
}
