package volume

import (
	"context"
	"fmt"

	"github.com/janelia-flyem/ngshow/ngshow"
)

// Array is a fixed-resolution, possibly chunked, n-d array.  The leading axes beyond
// the spatial ones are channel axes, so len(VoxelSize()) <= len(Shape()).
type Array interface {
	DataType() DataType

	// Shape returns the number of elements along each axis including channel axes.
	Shape() ngshow.PointNd

	// VoxelSize returns the physical size of a voxel along each spatial axis.
	VoxelSize() ngshow.NdFloat64

	// Offset returns the physical position of the first voxel along each spatial axis.
	Offset() ngshow.NdFloat64

	// ReadRegion returns the elements within [start, end) in C order, little-endian.
	ReadRegion(ctx context.Context, start, end ngshow.PointNd) ([]byte, error)
}

// SpatialDims returns the number of spatial axes of an array.
func SpatialDims(a Array) int {
	return len(a.VoxelSize())
}

// ChannelDims returns the number of leading channel axes of an array.
func ChannelDims(a Array) int {
	return len(a.Shape()) - len(a.VoxelSize())
}

// CheckRegion returns an error unless [start, end) lies within shape.
func CheckRegion(shape, start, end ngshow.PointNd) error {
	if len(start) != len(shape) || len(end) != len(shape) {
		return fmt.Errorf("%w: region %s-%s has wrong rank for shape %s", ErrOutOfBounds, start, end, shape)
	}
	for d := range shape {
		if start[d] < 0 || end[d] < start[d] || end[d] > shape[d] {
			return fmt.Errorf("%w: region %s-%s for shape %s", ErrOutOfBounds, start, end, shape)
		}
	}
	return nil
}

// strides returns the byte stride of each axis for a C-order array.
func strides(shape ngshow.PointNd, elemSize int) []int64 {
	s := make([]int64, len(shape))
	acc := int64(elemSize)
	for d := len(shape) - 1; d >= 0; d-- {
		s[d] = acc
		acc *= shape[d]
	}
	return s
}

// CopyBox copies a box of the given size from src, starting at srcStart, into dst
// starting at dstStart.  Both buffers are C-order arrays of the given shapes.
func CopyBox(dst []byte, dstShape, dstStart ngshow.PointNd, src []byte, srcShape, srcStart ngshow.PointNd, size ngshow.PointNd, elemSize int) error {
	n := len(size)
	if n == 0 || len(dstShape) != n || len(dstStart) != n || len(srcShape) != n || len(srcStart) != n {
		return fmt.Errorf("copy box requires matching non-zero ranks")
	}
	for d := 0; d < n; d++ {
		if size[d] == 0 {
			return nil
		}
		if size[d] < 0 || srcStart[d] < 0 || dstStart[d] < 0 ||
			srcStart[d]+size[d] > srcShape[d] || dstStart[d]+size[d] > dstShape[d] {
			return fmt.Errorf("box of size %s does not fit src %s at %s or dst %s at %s",
				size, srcShape, srcStart, dstShape, dstStart)
		}
	}
	if int64(len(src)) < srcShape.Prod()*int64(elemSize) || int64(len(dst)) < dstShape.Prod()*int64(elemSize) {
		return fmt.Errorf("buffers too small for shapes src %s, dst %s", srcShape, dstShape)
	}
	srcStrides := strides(srcShape, elemSize)
	dstStrides := strides(dstShape, elemSize)
	rowBytes := size[n-1] * int64(elemSize)

	idx := make([]int64, n-1)
	for {
		so := srcStart[n-1] * int64(elemSize)
		do := dstStart[n-1] * int64(elemSize)
		for d := 0; d < n-1; d++ {
			so += (srcStart[d] + idx[d]) * srcStrides[d]
			do += (dstStart[d] + idx[d]) * dstStrides[d]
		}
		copy(dst[do:do+rowBytes], src[so:so+rowBytes])

		d := n - 2
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < size[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

// MemArray is an Array held entirely in memory.
type MemArray struct {
	dataType  DataType
	shape     ngshow.PointNd
	voxelSize ngshow.NdFloat64
	offset    ngshow.NdFloat64
	data      []byte
}

// NewMemArray wraps a C-order little-endian buffer.  If offset is nil it defaults to
// the origin.
func NewMemArray(dataType DataType, shape ngshow.PointNd, voxelSize, offset ngshow.NdFloat64, data []byte) (*MemArray, error) {
	elemSize := dataType.Size()
	if elemSize == 0 {
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}
	if len(voxelSize) == 0 || len(voxelSize) > len(shape) {
		return nil, fmt.Errorf("%d voxel sizes given for array of rank %d", len(voxelSize), len(shape))
	}
	if offset == nil {
		offset = make(ngshow.NdFloat64, len(voxelSize))
	}
	if len(offset) != len(voxelSize) {
		return nil, fmt.Errorf("offset %s and voxel size %s differ in rank", offset, voxelSize)
	}
	for d, v := range voxelSize {
		if v <= 0 {
			return nil, fmt.Errorf("voxel size along axis %d must be positive, got %g", d, v)
		}
	}
	for d, s := range shape {
		if s < 0 {
			return nil, fmt.Errorf("negative extent %d along axis %d", s, d)
		}
	}
	if want := shape.Prod() * int64(elemSize); int64(len(data)) != want {
		return nil, fmt.Errorf("array of shape %s and type %s needs %d bytes, got %d", shape, dataType, want, len(data))
	}
	return &MemArray{
		dataType:  dataType,
		shape:     shape.Duplicate(),
		voxelSize: voxelSize,
		offset:    offset,
		data:      data,
	}, nil
}

func (m *MemArray) DataType() DataType { return m.dataType }
func (m *MemArray) Shape() ngshow.PointNd { return m.shape.Duplicate() }
func (m *MemArray) VoxelSize() ngshow.NdFloat64 { return m.voxelSize }
func (m *MemArray) Offset() ngshow.NdFloat64 { return m.offset }

func (m *MemArray) ReadRegion(ctx context.Context, start, end ngshow.PointNd) ([]byte, error) {
	if err := CheckRegion(m.shape, start, end); err != nil {
		return nil, err
	}
	size, err := start.Size(end)
	if err != nil {
		return nil, err
	}
	elemSize := m.dataType.Size()
	out := make([]byte, size.Prod()*int64(elemSize))
	if len(out) == 0 {
		return out, nil
	}
	if err := CopyBox(out, size, make(ngshow.PointNd, len(size)), m.data, m.shape, start, size, elemSize); err != nil {
		return nil, err
	}
	return out, nil
}

// Fill sets every element of buf to v.
func Fill(buf []byte, dataType DataType, v float64) {
	elemSize := dataType.Size()
	if v == 0 || elemSize == 0 {
		for i := range buf {
			buf[i] = 0
		}
		return
	}
	if len(buf) < elemSize {
		return
	}
	putValue(buf[:elemSize], dataType, v)
	for off := elemSize; off+elemSize <= len(buf); off += elemSize {
		copy(buf[off:off+elemSize], buf[:elemSize])
	}
}
