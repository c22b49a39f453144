/*
	Package zarr reads Zarr v2 arrays from a blob bucket as volume.Array.

	Voxel size and offset come from the "resolution" (or "voxel_size") and "offset"
	attributes in .zattrs, both in physical units and covering only the trailing spatial
	axes.  Leading axes without a resolution are channel axes.
*/
package zarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"

	"github.com/janelia-flyem/ngshow/ngshow"
	"github.com/janelia-flyem/ngshow/storage"
	"github.com/janelia-flyem/ngshow/volume"
)

// Metadata represents the Zarr v2 .zarray metadata.
type Metadata struct {
	Chunks             []int64          `json:"chunks"`
	Compressor         *CompressorConfig `json:"compressor"`
	DType              string           `json:"dtype"`
	FillValue          interface{}      `json:"fill_value"`
	Order              string           `json:"order"`
	Shape              []int64          `json:"shape"`
	ZarrFormat         int              `json:"zarr_format"`
	DimensionSeparator string           `json:"dimension_separator"`
}

// CompressorConfig represents the compression configuration.
type CompressorConfig struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

// Attributes holds the .zattrs settings used for physical placement.
type Attributes struct {
	Resolution []float64 `json:"resolution"`
	VoxelSize  []float64 `json:"voxel_size"`
	Offset     []float64 `json:"offset"`
}

// ParseDType maps a Zarr dtype string like "<u2" to a data type and reports whether the
// stored bytes are big-endian.
func ParseDType(dtype string) (dataType volume.DataType, bigEndian bool, err error) {
	if len(dtype) < 3 {
		return "", false, fmt.Errorf("invalid dtype: %s", dtype)
	}
	bigEndian = dtype[0] == '>'
	switch dtype[1:] {
	case "u1":
		dataType = volume.Uint8
	case "i1":
		dataType = volume.Int8
	case "u2":
		dataType = volume.Uint16
	case "i2":
		dataType = volume.Int16
	case "u4":
		dataType = volume.Uint32
	case "i4":
		dataType = volume.Int32
	case "u8":
		dataType = volume.Uint64
	case "i8":
		dataType = volume.Int64
	case "f4":
		dataType = volume.Float32
	case "f8":
		dataType = volume.Float64
	default:
		return "", false, fmt.Errorf("unsupported or unknown dtype: %s", dtype)
	}
	return dataType, bigEndian, nil
}

// Array is a Zarr v2 array stored in a bucket.
type Array struct {
	bucket *blob.Bucket
	path   string
	meta   Metadata

	dataType  volume.DataType
	bigEndian bool
	fillValue float64
	voxelSize ngshow.NdFloat64
	offset    ngshow.NdFloat64

	zstdDecoder *zstd.Decoder
}

// Open reads the metadata of the array at path within bucket.
func Open(ctx context.Context, bucket *blob.Bucket, path string) (*Array, error) {
	path = strings.Trim(path, "/")
	prefix := ""
	if path != "" {
		prefix = path + "/"
	}
	a := &Array{bucket: bucket, path: prefix}
	if err := storage.ReadJSON(ctx, bucket, prefix+".zarray", &a.meta); err != nil {
		return nil, err
	}
	if err := a.initialize(); err != nil {
		return nil, fmt.Errorf("zarr array %q: %v", path, err)
	}

	var attrs Attributes
	if err := storage.ReadJSON(ctx, bucket, prefix+".zattrs", &attrs); err != nil {
		ngshow.Debugf("No usable attributes for zarr array %q, assuming unit voxel size: %v\n", path, err)
	}
	if err := a.setPlacement(attrs); err != nil {
		return nil, fmt.Errorf("zarr array %q: %v", path, err)
	}
	ngshow.Infof("Opened zarr array %q: %s %s, chunks %v, voxel size %s\n", path, a.dataType, ngshow.PointNd(a.meta.Shape), a.meta.Chunks, a.voxelSize)
	return a, nil
}

func (a *Array) initialize() error {
	m := &a.meta
	if m.ZarrFormat != 2 {
		return fmt.Errorf("unsupported zarr_format %d", m.ZarrFormat)
	}
	if len(m.Shape) == 0 || len(m.Chunks) != len(m.Shape) {
		return fmt.Errorf("chunks %v do not match shape %v", m.Chunks, m.Shape)
	}
	for d, c := range m.Chunks {
		if c <= 0 {
			return fmt.Errorf("non-positive chunk size along axis %d", d)
		}
	}
	if m.Order != "" && m.Order != "C" {
		return fmt.Errorf("only C order is supported, not %q", m.Order)
	}
	if m.DimensionSeparator == "" {
		m.DimensionSeparator = "."
	}
	var err error
	if a.dataType, a.bigEndian, err = ParseDType(m.DType); err != nil {
		return err
	}
	switch fv := m.FillValue.(type) {
	case nil:
	case float64:
		a.fillValue = fv
	default:
		ngshow.Warningf("Ignoring non-numeric fill value %v\n", fv)
	}
	if m.Compressor != nil {
		switch m.Compressor.ID {
		case "gzip", "zlib":
		case "zstd":
			if a.zstdDecoder, err = zstd.NewReader(nil); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported compressor %q", m.Compressor.ID)
		}
	}
	return nil
}

func (a *Array) setPlacement(attrs Attributes) error {
	resolution := attrs.Resolution
	if resolution == nil {
		resolution = attrs.VoxelSize
	}
	rank := len(a.meta.Shape)
	if resolution == nil {
		resolution = make([]float64, rank)
		for i := range resolution {
			resolution[i] = 1
		}
	}
	if len(resolution) > rank {
		return fmt.Errorf("resolution %v has more axes than shape %v", resolution, a.meta.Shape)
	}
	offset := attrs.Offset
	if offset == nil {
		offset = make([]float64, len(resolution))
	}
	if len(offset) != len(resolution) {
		return fmt.Errorf("offset %v and resolution %v differ in rank", offset, resolution)
	}
	a.voxelSize = resolution
	a.offset = offset
	return nil
}

func (a *Array) DataType() volume.DataType {
	return a.dataType
}

func (a *Array) Shape() ngshow.PointNd {
	return append(ngshow.PointNd{}, a.meta.Shape...)
}

func (a *Array) VoxelSize() ngshow.NdFloat64 {
	return a.voxelSize
}

func (a *Array) Offset() ngshow.NdFloat64 {
	return a.offset
}

func (a *Array) chunkKey(idx ngshow.PointNd) string {
	strs := make([]string, len(idx))
	for i, v := range idx {
		strs[i] = strconv.FormatInt(v, 10)
	}
	return a.path + strings.Join(strs, a.meta.DimensionSeparator)
}

// readChunk returns the decoded chunk at the given chunk index or nil if it is missing.
func (a *Array) readChunk(ctx context.Context, idx ngshow.PointNd) ([]byte, error) {
	key := a.chunkKey(idx)
	raw, err := storage.ReadObject(ctx, a.bucket, key)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var data []byte
	switch {
	case a.meta.Compressor == nil:
		data = raw
	case a.meta.Compressor.ID == "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("can't uncompress gzip chunk %q: %v", key, err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("can't read gzip chunk %q: %v", key, err)
		}
	case a.meta.Compressor.ID == "zlib":
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("can't uncompress zlib chunk %q: %v", key, err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("can't read zlib chunk %q: %v", key, err)
		}
	case a.meta.Compressor.ID == "zstd":
		if data, err = a.zstdDecoder.DecodeAll(raw, nil); err != nil {
			return nil, fmt.Errorf("can't uncompress zstd chunk %q: %v", key, err)
		}
	}
	elemSize := a.dataType.Size()
	if want := ngshow.PointNd(a.meta.Chunks).Prod() * int64(elemSize); int64(len(data)) != want {
		return nil, fmt.Errorf("chunk %q has %d bytes, expected %d", key, len(data), want)
	}
	if a.bigEndian && elemSize > 1 {
		for off := 0; off < len(data); off += elemSize {
			elem := data[off : off+elemSize]
			for i, j := 0, elemSize-1; i < j; i, j = i+1, j-1 {
				elem[i], elem[j] = elem[j], elem[i]
			}
		}
	}
	return data, nil
}

// ReadRegion assembles [start, end) from all overlapping chunks, reading them
// concurrently.  Missing chunks are filled with the fill value.
func (a *Array) ReadRegion(ctx context.Context, start, end ngshow.PointNd) ([]byte, error) {
	timedLog := ngshow.NewTimeLog()
	chunkShape := ngshow.PointNd(a.meta.Chunks)
	fetch := func(ctx context.Context, chunkIdx ngshow.PointNd) ([]byte, ngshow.PointNd, error) {
		data, err := a.readChunk(ctx, chunkIdx)
		return data, chunkShape, err
	}
	out, err := volume.ReadChunked(ctx, a.dataType, a.Shape(), chunkShape, start, end, a.fillValue, fetch)
	if err != nil {
		return nil, err
	}
	timedLog.Debugf("Read zarr region %s-%s of %q", start, end, a.path)
	return out, nil
}

// IsArray returns true if path within bucket holds a Zarr v2 array.
func IsArray(ctx context.Context, bucket *blob.Bucket, path string) bool {
	path = strings.Trim(path, "/")
	if path != "" {
		path += "/"
	}
	ok, err := bucket.Exists(ctx, path+".zarray")
	return err == nil && ok
}

// MarshalJSON writes the array metadata, used when describing layers.
func (a *Array) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Path      string           `json:"path"`
		DataType  volume.DataType  `json:"dataType"`
		Shape     []int64          `json:"shape"`
		Chunks    []int64          `json:"chunks"`
		VoxelSize ngshow.NdFloat64 `json:"voxelSize"`
		Offset    ngshow.NdFloat64 `json:"offset"`
	}{strings.TrimSuffix(a.path, "/"), a.dataType, a.meta.Shape, a.meta.Chunks, a.voxelSize, a.offset})
}
