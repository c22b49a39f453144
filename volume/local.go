package volume

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/twinj/uuid"

	"github.com/janelia-flyem/ngshow/ngshow"
)

// LocalOptions configures a LocalVolume.  Zero values select defaults.
type LocalOptions struct {
	// Dimensions names every axis of the array, including channel axes.  Required.
	Dimensions CoordinateSpace

	// VoxelOffset is the voxel coordinate of the first element.  Defaults to the origin.
	VoxelOffset ngshow.PointNd

	// VolumeType defaults to segmentation for uint32 and uint64 data, image otherwise.
	VolumeType VolumeType

	// Encoding is the preferred subvolume format advertised in Info.  Defaults to raw.
	Encoding Format

	ChunkLayout           string
	DownsamplingLayout    string
	MaxDownsampling       int64
	MaxDownsampledSize    int64
	MaxDownsamplingScales int64
}

// LocalVolume is a Source backed by a single fixed-resolution Array.  Coarser views are
// computed on the fly: averaging for images and striding for segmentation.
type LocalVolume struct {
	data        Array
	dataType    DataType
	shape       ngshow.PointNd
	dims        CoordinateSpace
	voxelOffset ngshow.PointNd
	volumeType  VolumeType
	encoding    Format

	chunkLayout           string
	downsamplingLayout    string
	maxDownsampling       int64
	maxDownsampledSize    int64
	maxDownsamplingScales int64

	token      string
	generation uint64
}

// NewLocalVolume returns a Source for the given array.
func NewLocalVolume(data Array, opts LocalOptions) (*LocalVolume, error) {
	shape := data.Shape()
	dataType := data.DataType()
	if dataType.Size() == 0 {
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}
	if err := opts.Dimensions.Validate(); err != nil {
		return nil, err
	}
	if opts.Dimensions.Rank() != len(shape) {
		return nil, fmt.Errorf("coordinate space of rank %d given for array of shape %s", opts.Dimensions.Rank(), shape)
	}
	voxelOffset := opts.VoxelOffset
	if voxelOffset == nil {
		voxelOffset = make(ngshow.PointNd, len(shape))
	}
	if len(voxelOffset) != len(shape) {
		return nil, fmt.Errorf("voxel offset %s does not match array of shape %s", voxelOffset, shape)
	}
	volumeType := opts.VolumeType
	switch volumeType {
	case "":
		volumeType = Image
		if dataType.IsLabel() {
			volumeType = Segmentation
		}
	case Image, Segmentation:
	default:
		return nil, fmt.Errorf("unknown volume type %q", volumeType)
	}
	v := &LocalVolume{
		data:                  data,
		dataType:              dataType,
		shape:                 shape,
		dims:                  opts.Dimensions,
		voxelOffset:           voxelOffset.Duplicate(),
		volumeType:            volumeType,
		encoding:              opts.Encoding,
		chunkLayout:           opts.ChunkLayout,
		downsamplingLayout:    opts.DownsamplingLayout,
		maxDownsampling:       opts.MaxDownsampling,
		maxDownsampledSize:    opts.MaxDownsampledSize,
		maxDownsamplingScales: opts.MaxDownsamplingScales,
		token:                 fmt.Sprintf("%x", uuid.NewV4().Bytes()),
	}
	if v.encoding == "" {
		v.encoding = FormatRaw
	}
	if v.chunkLayout == "" {
		v.chunkLayout = DefaultChunkLayout
	}
	if v.downsamplingLayout == "" {
		v.downsamplingLayout = DefaultDownsamplingLayout
	}
	if v.maxDownsampling == 0 {
		v.maxDownsampling = DefaultMaxDownsampling
	}
	if v.maxDownsampledSize == 0 {
		v.maxDownsampledSize = DefaultMaxDownsampledSize
	}
	if v.maxDownsamplingScales == 0 {
		v.maxDownsamplingScales = DefaultMaxDownsamplingScales
	}
	return v, nil
}

func (v *LocalVolume) String() string {
	return fmt.Sprintf("local %s volume %s of shape %s, voxel size %s", v.volumeType, v.dataType, v.shape, v.dims.Scales)
}

// Array returns the backing array.
func (v *LocalVolume) Array() Array {
	return v.data
}

func (v *LocalVolume) Info() (*Info, error) {
	return &Info{
		DataType:              v.dataType,
		Encoding:              v.encoding,
		Generation:            atomic.LoadUint64(&v.generation),
		CoordinateSpace:       v.dims,
		Shape:                 v.shape.Duplicate(),
		VolumeType:            v.volumeType,
		VoxelOffset:           v.voxelOffset.Duplicate(),
		ChunkLayout:           v.chunkLayout,
		DownsamplingLayout:    v.downsamplingLayout,
		MaxDownsampling:       v.maxDownsampling,
		MaxDownsampledSize:    v.maxDownsampledSize,
		MaxDownsamplingScales: v.maxDownsamplingScales,
	}, nil
}

func (v *LocalVolume) EncodedSubvolume(ctx context.Context, format Format, start, end ngshow.PointNd, factors []int64) ([]byte, error) {
	timedLog := ngshow.NewTimeLog()
	switch format {
	case FormatRaw, FormatRawGzip, FormatJPEG:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	rank := len(v.shape)
	factors, err := checkFactors(factors, rank, v.maxDownsampling)
	if err != nil {
		return nil, err
	}
	if err := CheckRegion(downsampleShape(v.shape, factors), start, end); err != nil {
		return nil, err
	}

	readStart := make(ngshow.PointNd, rank)
	readEnd := make(ngshow.PointNd, rank)
	for d := 0; d < rank; d++ {
		readStart[d] = start[d] * factors[d]
		readEnd[d] = end[d] * factors[d]
		if readEnd[d] > v.shape[d] {
			readEnd[d] = v.shape[d]
		}
	}
	data, err := v.data.ReadRegion(ctx, readStart, readEnd)
	if err != nil {
		return nil, err
	}
	shape, err := readStart.Size(readEnd)
	if err != nil {
		return nil, err
	}
	if !IsIdentity(factors) {
		if v.volumeType == Image {
			data, shape = downsampleAveraging(data, shape, factors, v.dataType)
		} else {
			data, shape = downsampleStriding(data, shape, factors, v.dataType.Size())
		}
	}
	encoded, err := Encode(format, v.dataType, shape, data)
	if err != nil {
		return nil, err
	}
	timedLog.Debugf("encoded %s subvolume %s-%s at %v (%s)", format, start, end, factors, humanize.Bytes(uint64(len(encoded))))
	return encoded, nil
}

func (v *LocalVolume) ObjectMesh(ctx context.Context, id uint64) ([]byte, error) {
	if v.volumeType != Segmentation {
		return nil, fmt.Errorf("%w: %s volumes have no objects", ErrNoMesh, v.volumeType)
	}
	timedLog := ngshow.NewTimeLog()
	data, err := v.data.ReadRegion(ctx, make(ngshow.PointNd, len(v.shape)), v.shape)
	if err != nil {
		return nil, err
	}
	mesh, err := surfaceMesh(data, v.shape, v.dataType, id, v.dims.Scales, v.voxelOffset)
	if err != nil {
		return nil, err
	}
	timedLog.Debugf("generated mesh for object %d (%s)", id, humanize.Bytes(uint64(len(mesh))))
	return mesh, nil
}

func (v *LocalVolume) Invalidate() uint64 {
	return atomic.AddUint64(&v.generation, 1)
}

func (v *LocalVolume) VolumeType() VolumeType {
	return v.volumeType
}

func (v *LocalVolume) Token() string {
	return v.token
}

func (v *LocalVolume) VoxelSize() ngshow.NdFloat64 {
	return v.dims.Scales
}

func (v *LocalVolume) Rank() int {
	return len(v.shape)
}
