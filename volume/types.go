package volume

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/janelia-flyem/ngshow/ngshow"
)

// DataType is the element type of a volume, named as in numpy.
type DataType string

const (
	Uint8   DataType = "uint8"
	Uint16  DataType = "uint16"
	Uint32  DataType = "uint32"
	Uint64  DataType = "uint64"
	Int8    DataType = "int8"
	Int16   DataType = "int16"
	Int32   DataType = "int32"
	Int64   DataType = "int64"
	Float32 DataType = "float32"
	Float64 DataType = "float64"
)

// Size returns the number of bytes per element or 0 for an unknown type.
func (t DataType) Size() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	}
	return 0
}

// IsLabel returns true for types that are treated as segmentation labels by default.
func (t DataType) IsLabel() bool {
	return t == Uint32 || t == Uint64
}

// VolumeType tells a viewer how to interpret voxel values.
type VolumeType string

const (
	Image        VolumeType = "image"
	Segmentation VolumeType = "segmentation"
)

// Format selects how an encoded subvolume is serialized.
type Format string

const (
	FormatRaw     Format = "raw"
	FormatRawGzip Format = "raw_gzip"
	FormatJPEG    Format = "jpeg"
	FormatNPZ     Format = "npz"
)

// ContentType returns the HTTP content type for the given format.
func ContentType(f Format) string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "application/octet-stream"
}

// Defaults for descriptor fields when the caller does not override them.
const (
	DefaultChunkLayout           = "isotropic"
	DefaultDownsamplingLayout    = "3d"
	DefaultMaxDownsampling       = 64
	DefaultMaxDownsampledSize    = 128
	DefaultMaxDownsamplingScales = 32
)

// CoordinateSpace names each axis of a volume along with its unit and voxel size.
type CoordinateSpace struct {
	Names  []string
	Units  []string
	Scales ngshow.NdFloat64
}

// Rank returns the number of axes.
func (cs CoordinateSpace) Rank() int {
	return len(cs.Names)
}

// Validate makes sure all per-axis slices agree in length and scales are positive.
func (cs CoordinateSpace) Validate() error {
	n := len(cs.Names)
	if len(cs.Units) != n || len(cs.Scales) != n {
		return fmt.Errorf("coordinate space has %d names, %d units and %d scales", n, len(cs.Units), len(cs.Scales))
	}
	seen := make(map[string]struct{}, n)
	for i, name := range cs.Names {
		if name == "" {
			return fmt.Errorf("coordinate space axis %d has no name", i)
		}
		if _, found := seen[name]; found {
			return fmt.Errorf("coordinate space has duplicate axis name %q", name)
		}
		seen[name] = struct{}{}
		if cs.Scales[i] <= 0 {
			return fmt.Errorf("coordinate space axis %q has non-positive scale %g", name, cs.Scales[i])
		}
	}
	return nil
}

// Reversed returns the coordinate space with axis order reversed.
func (cs CoordinateSpace) Reversed() CoordinateSpace {
	n := len(cs.Names)
	out := CoordinateSpace{
		Names:  make([]string, n),
		Units:  make([]string, n),
		Scales: make(ngshow.NdFloat64, n),
	}
	for i := 0; i < n; i++ {
		out.Names[i] = cs.Names[n-1-i]
		out.Units[i] = cs.Units[n-1-i]
		out.Scales[i] = cs.Scales[n-1-i]
	}
	return out
}

// MarshalJSON writes the space as {"name": [scale, "unit"], ...} keeping axis order.
func (cs CoordinateSpace) MarshalJSON() ([]byte, error) {
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range cs.Names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		val, err := json.Marshal([]interface{}{cs.Scales[i], cs.Units[i]})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Info is the descriptor a viewer requests before fetching any data.
type Info struct {
	DataType              DataType        `json:"dataType"`
	Encoding              Format          `json:"encoding"`
	Generation            uint64          `json:"generation"`
	CoordinateSpace       CoordinateSpace `json:"coordinateSpace"`
	Shape                 ngshow.PointNd  `json:"shape"`
	VolumeType            VolumeType      `json:"volumeType"`
	VoxelOffset           ngshow.PointNd  `json:"voxelOffset"`
	ChunkLayout           string          `json:"chunkLayout"`
	DownsamplingLayout    string          `json:"downsamplingLayout"`
	MaxDownsampling       int64           `json:"maxDownsampling"`
	MaxDownsampledSize    int64           `json:"maxDownsampledSize"`
	MaxDownsamplingScales int64           `json:"maxDownsamplingScales"`
}
