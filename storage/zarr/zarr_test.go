package zarr

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/janelia-flyem/ngshow/ngshow"
	"github.com/janelia-flyem/ngshow/volume"
)

const testZarray = `{
	"chunks": [2, 3, 3],
	"compressor": %s,
	"dtype": "%s",
	"fill_value": %s,
	"order": "C",
	"shape": [2, 4, 4],
	"zarr_format": 2
}`

// value is the test volume content at z, y, x.
func value(z, y, x int64) uint16 {
	return uint16(100*z + 10*y + x)
}

type writer func(t *testing.T, bucket *blob.Bucket, key string, data []byte)

func writeRaw(t *testing.T, bucket *blob.Bucket, key string, data []byte) {
	if err := bucket.WriteAll(context.Background(), key, data, nil); err != nil {
		t.Fatalf("can't write %q: %v\n", key, err)
	}
}

func writeGzip(t *testing.T, bucket *blob.Bucket, key string, data []byte) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	writeRaw(t, bucket, key, buf.Bytes())
}

func writeZstd(t *testing.T, bucket *blob.Bucket, key string, data []byte) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	writeRaw(t, bucket, key, enc.EncodeAll(data, nil))
}

// writeChunks stores the test volume as full-sized chunks, skipping any chunk in skip.
func writeChunks(t *testing.T, bucket *blob.Bucket, order binary.AppendByteOrder, write writer, skip string) {
	for cz := int64(0); cz < 1; cz++ {
		for cy := int64(0); cy < 2; cy++ {
			for cx := int64(0); cx < 2; cx++ {
				key := fmt.Sprintf("vol/%d.%d.%d", cz, cy, cx)
				if key == skip {
					continue
				}
				var data []byte
				for z := cz * 2; z < cz*2+2; z++ {
					for y := cy * 3; y < cy*3+3; y++ {
						for x := cx * 3; x < cx*3+3; x++ {
							data = order.AppendUint16(data, value(z, y, x))
						}
					}
				}
				write(t, bucket, key, data)
			}
		}
	}
}

func expected(start, end ngshow.PointNd) []byte {
	var out []byte
	for z := start[0]; z < end[0]; z++ {
		for y := start[1]; y < end[1]; y++ {
			for x := start[2]; x < end[2]; x++ {
				out = binary.LittleEndian.AppendUint16(out, value(z, y, x))
			}
		}
	}
	return out
}

func TestReadRegion(t *testing.T) {
	tests := []struct {
		name       string
		compressor string
		dtype      string
		order      binary.AppendByteOrder
		write      writer
	}{
		{"raw", "null", "<u2", binary.LittleEndian, writeRaw},
		{"gzip", `{"id": "gzip", "level": 5}`, "<u2", binary.LittleEndian, writeGzip},
		{"zstd", `{"id": "zstd"}`, "<u2", binary.LittleEndian, writeZstd},
		{"big endian", "null", ">u2", binary.BigEndian, writeRaw},
	}
	ctx := context.Background()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bucket := memblob.OpenBucket(nil)
			defer bucket.Close()
			writeRaw(t, bucket, "vol/.zarray", []byte(fmt.Sprintf(testZarray, tc.compressor, tc.dtype, "0")))
			writeRaw(t, bucket, "vol/.zattrs", []byte(`{"resolution": [40, 4, 4], "offset": [400, 0, 8]}`))
			writeChunks(t, bucket, tc.order, tc.write, "")

			if !IsArray(ctx, bucket, "vol") {
				t.Fatalf("expected zarr array at vol\n")
			}
			arr, err := Open(ctx, bucket, "/vol/")
			if err != nil {
				t.Fatalf("couldn't open array: %v\n", err)
			}
			if arr.DataType() != volume.Uint16 {
				t.Errorf("expected uint16, got %s\n", arr.DataType())
			}
			if diff := cmp.Diff(ngshow.NdFloat64{40, 4, 4}, arr.VoxelSize()); diff != "" {
				t.Errorf("bad voxel size (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(ngshow.NdFloat64{400, 0, 8}, arr.Offset()); diff != "" {
				t.Errorf("bad offset (-want +got):\n%s", diff)
			}
			for _, region := range [][2]ngshow.PointNd{
				{{0, 0, 0}, {2, 4, 4}},
				{{1, 2, 2}, {2, 4, 4}},
				{{0, 3, 0}, {1, 4, 3}},
			} {
				data, err := arr.ReadRegion(ctx, region[0], region[1])
				if err != nil {
					t.Fatalf("couldn't read %v: %v\n", region, err)
				}
				if diff := cmp.Diff(expected(region[0], region[1]), data); diff != "" {
					t.Errorf("bad read of %v (-want +got):\n%s", region, diff)
				}
			}
		})
	}
}

func TestFillValue(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	writeRaw(t, bucket, "vol/.zarray", []byte(fmt.Sprintf(testZarray, "null", "<u2", "7")))
	writeChunks(t, bucket, binary.LittleEndian, writeRaw, "vol/0.1.1")

	arr, err := Open(ctx, bucket, "vol")
	if err != nil {
		t.Fatalf("couldn't open array: %v\n", err)
	}
	if diff := cmp.Diff(ngshow.NdFloat64{1, 1, 1}, arr.VoxelSize()); diff != "" {
		t.Errorf("expected unit voxel size without attributes (-want +got):\n%s", diff)
	}
	data, err := arr.ReadRegion(ctx, ngshow.PointNd{0, 2, 2}, ngshow.PointNd{1, 4, 4})
	if err != nil {
		t.Fatalf("couldn't read region: %v\n", err)
	}
	want := binary.LittleEndian.AppendUint16(nil, value(0, 2, 2))
	want = binary.LittleEndian.AppendUint16(want, value(0, 2, 3))
	want = binary.LittleEndian.AppendUint16(want, value(0, 3, 2))
	want = binary.LittleEndian.AppendUint16(want, 7)
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("bad read with missing chunk (-want +got):\n%s", diff)
	}
}

func TestChannelAxes(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	writeRaw(t, bucket, "rgb/.zarray", []byte(`{"chunks": [3, 2, 2], "compressor": null, "dtype": "|u1",
		"fill_value": 0, "order": "C", "shape": [3, 2, 2], "zarr_format": 2, "dimension_separator": "/"}`))
	writeRaw(t, bucket, "rgb/.zattrs", []byte(`{"voxel_size": [8, 8]}`))
	writeRaw(t, bucket, "rgb/0/0/0", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})

	arr, err := Open(ctx, bucket, "rgb")
	if err != nil {
		t.Fatalf("couldn't open array: %v\n", err)
	}
	if volume.ChannelDims(arr) != 1 {
		t.Errorf("expected one channel axis, got %d\n", volume.ChannelDims(arr))
	}
	data, err := arr.ReadRegion(ctx, ngshow.PointNd{1, 0, 1}, ngshow.PointNd{3, 2, 2})
	if err != nil {
		t.Fatalf("couldn't read region: %v\n", err)
	}
	if diff := cmp.Diff([]byte{6, 8, 10, 12}, data); diff != "" {
		t.Errorf("bad channel read (-want +got):\n%s", diff)
	}
}

func TestBadMetadata(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	if _, err := Open(ctx, bucket, "missing"); err == nil {
		t.Errorf("expected error for missing array\n")
	}
	writeRaw(t, bucket, "blosc/.zarray", []byte(fmt.Sprintf(testZarray, `{"id": "blosc"}`, "<u2", "0")))
	if _, err := Open(ctx, bucket, "blosc"); err == nil {
		t.Errorf("expected error for unsupported compressor\n")
	}
	writeRaw(t, bucket, "complex/.zarray", []byte(fmt.Sprintf(testZarray, "null", "<c8", "0")))
	if _, err := Open(ctx, bucket, "complex"); err == nil {
		t.Errorf("expected error for unsupported dtype\n")
	}
}
