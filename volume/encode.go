package volume

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/klauspost/compress/gzip"

	"github.com/janelia-flyem/ngshow/ngshow"
)

// JPEGQuality is used for all jpeg-encoded subvolumes.
const JPEGQuality = 95

// Encode serializes a C-order subvolume of the given shape.
func Encode(format Format, dataType DataType, shape ngshow.PointNd, data []byte) ([]byte, error) {
	switch format {
	case FormatRaw:
		return data, nil
	case FormatRawGzip:
		return gzipCompress(data)
	case FormatJPEG:
		return jpegCompress(dataType, shape, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func gzipCompress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(in); err != nil {
		return nil, fmt.Errorf("can't gzip data: %v", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("can't finish gzip data: %v", err)
	}
	return buf.Bytes(), nil
}

// jpegCompress lays out the subvolume as a grayscale image whose width is the last
// axis and whose rows are all other axes flattened.
func jpegCompress(dataType DataType, shape ngshow.PointNd, data []byte) ([]byte, error) {
	if dataType != Uint8 {
		return nil, fmt.Errorf("%w: jpeg requires uint8 data, not %s", ErrUnsupportedFormat, dataType)
	}
	if len(shape) == 0 || shape.Prod() == 0 {
		return nil, fmt.Errorf("can't jpeg encode empty subvolume %s", shape)
	}
	width := shape[len(shape)-1]
	height := shape.Prod() / width
	img := &image.Gray{
		Pix:    data,
		Stride: int(width),
		Rect:   image.Rect(0, 0, int(width), int(height)),
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
