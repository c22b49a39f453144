package volume

import (
	"encoding/binary"
	"math"

	"github.com/janelia-flyem/ngshow/ngshow"
)

// downsampleShape returns ceil(shape / factors) along each axis.
func downsampleShape(shape ngshow.PointNd, factors []int64) ngshow.PointNd {
	out := make(ngshow.PointNd, len(shape))
	for d := range shape {
		out[d] = (shape[d] + factors[d] - 1) / factors[d]
	}
	return out
}

// forEachIndex calls fn with every multi-index within shape in C order.
func forEachIndex(shape ngshow.PointNd, fn func(idx ngshow.PointNd)) {
	if len(shape) == 0 || shape.Prod() == 0 {
		return
	}
	idx := make(ngshow.PointNd, len(shape))
	for {
		fn(idx)
		d := len(shape) - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

// downsampleStriding keeps the first element of every factors-sized block.  Labels are
// never blended so this is used for segmentation.
func downsampleStriding(data []byte, shape ngshow.PointNd, factors []int64, elemSize int) ([]byte, ngshow.PointNd) {
	outShape := downsampleShape(shape, factors)
	out := make([]byte, outShape.Prod()*int64(elemSize))
	inStrides := strides(shape, elemSize)
	var pos int64
	forEachIndex(outShape, func(idx ngshow.PointNd) {
		var src int64
		for d := range idx {
			src += idx[d] * factors[d] * inStrides[d]
		}
		copy(out[pos:pos+int64(elemSize)], data[src:src+int64(elemSize)])
		pos += int64(elemSize)
	})
	return out, outShape
}

// downsampleAveraging replaces every factors-sized block with its mean.  Blocks on the
// upper boundary may be partial and are averaged over the voxels present.
func downsampleAveraging(data []byte, shape ngshow.PointNd, factors []int64, dataType DataType) ([]byte, ngshow.PointNd) {
	elemSize := dataType.Size()
	outShape := downsampleShape(shape, factors)
	out := make([]byte, outShape.Prod()*int64(elemSize))
	inStrides := strides(shape, elemSize)
	blockShape := make(ngshow.PointNd, len(shape))
	var pos int64
	forEachIndex(outShape, func(idx ngshow.PointNd) {
		var base int64
		for d := range idx {
			lo := idx[d] * factors[d]
			hi := lo + factors[d]
			if hi > shape[d] {
				hi = shape[d]
			}
			blockShape[d] = hi - lo
			base += lo * inStrides[d]
		}
		var sum float64
		var n int64
		forEachIndex(blockShape, func(bidx ngshow.PointNd) {
			off := base
			for d := range bidx {
				off += bidx[d] * inStrides[d]
			}
			sum += getValue(data[off:], dataType)
			n++
		})
		putValue(out[pos:], dataType, sum/float64(n))
		pos += int64(elemSize)
	})
	return out, outShape
}

func getValue(b []byte, t DataType) float64 {
	switch t {
	case Uint8:
		return float64(b[0])
	case Int8:
		return float64(int8(b[0]))
	case Uint16:
		return float64(binary.LittleEndian.Uint16(b))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(b))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case Uint64:
		return float64(binary.LittleEndian.Uint64(b))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// putValue stores v, rounding to nearest for integer types.
func putValue(b []byte, t DataType, v float64) {
	switch t {
	case Uint8:
		b[0] = uint8(math.Round(v))
	case Int8:
		b[0] = uint8(int8(math.Round(v)))
	case Uint16:
		binary.LittleEndian.PutUint16(b, uint16(math.Round(v)))
	case Int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(math.Round(v))))
	case Uint32:
		binary.LittleEndian.PutUint32(b, uint32(math.Round(v)))
	case Int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(math.Round(v))))
	case Uint64:
		binary.LittleEndian.PutUint64(b, uint64(math.Round(v)))
	case Int64:
		binary.LittleEndian.PutUint64(b, uint64(int64(math.Round(v))))
	case Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

// labelAt returns the element at byte offset off as an unsigned label.
func labelAt(data []byte, off int64, t DataType) uint64 {
	b := data[off:]
	switch t.Size() {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}
