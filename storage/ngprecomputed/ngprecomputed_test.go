package ngprecomputed

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/janelia-flyem/ngshow/ngshow"
)

var sampleInfo = `
{
	"@type": "neuroglancer_multiscale_volume",
	"data_type": "uint8",
	"num_channels": 1,
	"scales": [
	  {
		"chunk_sizes": [
		  [64, 64, 64]
		],
		"encoding": "jpeg",
		"jpeg_quality": 75,
		"key": "4_4_4",
		"resolution": [4.0, 4.0, 4.0],
		"sharding": {
		  "@type": "neuroglancer_uint64_sharded_v1",
		  "data_encoding": "gzip",
		  "hash": "identity",
		  "minishard_bits": 6,
		  "minishard_index_encoding": "gzip",
		  "preshift_bits": 9,
		  "shard_bits": 15
		},
		"size": [11005, 9286, 9504],
		"voxel_offset": [0, 0, 0]
	  },
	  {
		"chunk_sizes": [
		  [64, 64, 64]
		],
		"encoding": "jpeg",
		"jpeg_quality": 75,
		"key": "8_8_8",
		"resolution": [
		  8.0,
		  8.0,
		  8.0
		],
		"sharding": {
		  "@type": "neuroglancer_uint64_sharded_v1",
		  "data_encoding": "gzip",
		  "hash": "identity",
		  "minishard_bits": 6,
		  "minishard_index_encoding": "gzip",
		  "preshift_bits": 9,
		  "shard_bits": 15
		},
		"size": [5502, 4643, 4752],
		"voxel_offset": [0, 0, 0]
	  },
	  {
		"chunk_sizes": [
		[64, 64, 64]
		],
		"encoding": "jpeg",
		"jpeg_quality": 75,
		"key": "16_16_16",
		"resolution": [
		16.0,
		16.0,
		16.0
		],
		"sharding": {
		"@type": "neuroglancer_uint64_sharded_v1",
		"data_encoding": "gzip",
		"hash": "identity",
		"minishard_bits": 6,
		"minishard_index_encoding": "gzip",
		"preshift_bits": 9,
		"shard_bits": 15
		},
		"size": [2751, 2321, 2376],
		"voxel_offset": [0, 0, 0]
	},
	{
		"chunk_sizes": [
		  [64, 64, 64]
		],
		"encoding": "jpeg",
		"jpeg_quality": 75,
		"key": "32_32_32",
		"resolution": [
		  32.0,
		  32.0,
		  32.0
		],
		"sharding": {
		  "@type": "neuroglancer_uint64_sharded_v1",
		  "data_encoding": "gzip",
		  "hash": "identity",
		  "minishard_bits": 6,
		  "minishard_index_encoding": "gzip",
		  "preshift_bits": 9,
		  "shard_bits": 15
		},
		"size": [1375, 1160, 1188],
		"voxel_offset": [0, 0, 0]
	  },
	  {
		  "chunk_sizes": [
			[64, 64, 64]
		  ],
		  "encoding": "jpeg",
		  "jpeg_quality": 75,
		  "key": "64_64_64",
		  "resolution": [
			64.0,
			64.0,
			64.0
		  ],
		  "sharding": {
			"@type": "neuroglancer_uint64_sharded_v1",
			"data_encoding": "gzip",
			"hash": "identity",
			"minishard_bits": 6,
			"minishard_index_encoding": "gzip",
			"preshift_bits": 9,
			"shard_bits": 15
		  },
		  "size": [687, 580, 594],
		  "voxel_offset": [0, 0, 0]
		},
		{
		  "chunk_sizes": [
			[64, 64, 64]
		  ],
		  "encoding": "jpeg",
		  "jpeg_quality": 75,
		  "key": "128_128_128",
		  "resolution": [
			128.0,
			128.0,
			128.0
		  ],
		  "sharding": {
			"@type": "neuroglancer_uint64_sharded_v1",
			"data_encoding": "gzip",
			"hash": "identity",
			"minishard_bits": 6,
			"minishard_index_encoding": "gzip",
			"preshift_bits": 9,
			"shard_bits": 15
		  },
		  "size": [343, 290, 297],
		  "voxel_offset": [0, 0, 0]
		},
		{
		  "chunk_sizes": [
			[64, 64, 64]
		  ],
		  "encoding": "jpeg",
		  "jpeg_quality": 75,
		  "key": "256_256_256",
		  "resolution": [
			256.0,
			256.0,
			256.0
		  ],
		  "sharding": {
			"@type": "neuroglancer_uint64_sharded_v1",
			"data_encoding": "gzip",
			"hash": "identity",
			"minishard_bits": 6,
			"minishard_index_encoding": "gzip",
			"preshift_bits": 9,
			"shard_bits": 15
		  },
		  "size": [171, 145, 148],
		  "voxel_offset": [0, 0, 0]
		},
		{
		  "chunk_sizes": [
			[64, 64, 64]
		  ],
		  "encoding": "jpeg",
		  "jpeg_quality": 75,
		  "key": "512_512_512",
		  "resolution": [
			512.0,
			512.0,
			512.0
		  ],
		  "sharding": {
			"@type": "neuroglancer_uint64_sharded_v1",
			"data_encoding": "gzip",
			"hash": "identity",
			"minishard_bits": 6,
			"minishard_index_encoding": "gzip",
			"preshift_bits": 9,
			"shard_bits": 15
		  },
		  "size": [85, 72, 74],
		  "voxel_offset": [0, 0, 0]
		}
	],
	"type": "image"
  }`

func TestConfig(t *testing.T) {
	var vol ngVolume
	if err := json.Unmarshal([]byte(sampleInfo), &vol); err != nil {
		t.Fatalf("unable to parse sample ngprecomputed info file: %v\n", err)
	}
	if len(vol.Scales) != 8 {
		t.Fatalf("expected 8 scales got %d instead!\n", len(vol.Scales))
	}
	if vol.Scales[2].Resolution != [3]float64{16.0, 16.0, 16.0} {
		t.Fatalf("expected [16.0, 16.0, 16.0] got %v\n", vol.Scales[2].Resolution)
	}
	if vol.Scales[4].Resolution != [3]float64{64.0, 64.0, 64.0} {
		t.Fatalf("expected [64.0, 64.0, 64.0] got %v\n", vol.Scales[4].Resolution)
	}
}

func writeObject(t *testing.T, bucket *blob.Bucket, key string, data []byte) {
	if err := bucket.WriteAll(context.Background(), key, data, nil); err != nil {
		t.Fatalf("can't write %q: %v\n", key, err)
	}
}

func TestOpenSample(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	writeObject(t, bucket, "info", []byte(sampleInfo))

	vol, err := Open(ctx, bucket, "mem://sample")
	if err != nil {
		t.Fatalf("couldn't open sample volume: %v\n", err)
	}
	if vol.NumScales() != 8 {
		t.Fatalf("expected 8 scales, got %d\n", vol.NumScales())
	}
	s, err := vol.Scale(1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ngshow.PointNd{4752, 4643, 5502}, s.Shape()); diff != "" {
		t.Errorf("bad zyx shape (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ngshow.NdFloat64{8, 8, 8}, s.VoxelSize()); diff != "" {
		t.Errorf("bad voxel size (-want +got):\n%s", diff)
	}
	if _, err := vol.Scale(8); err == nil {
		t.Errorf("expected error for nonexistent scale\n")
	}
	if diff := cmp.Diff([]string{"4_4_4", "8_8_8", "16_16_16", "32_32_32", "64_64_64", "128_128_128", "256_256_256", "512_512_512"}, vol.ScaleKeys()); diff != "" {
		t.Errorf("bad scale keys (-want +got):\n%s", diff)
	}
}

func TestMortonCode(t *testing.T) {
	s := &ScaleArray{numBits: [3]uint8{2, 1, 3}, maxBits: 3}
	if code := s.mortonCode([3]int64{3, 1, 5}); code != 0x2f {
		t.Errorf("expected compressed morton code 0x2f, got %x\n", code)
	}
	if code := s.mortonCode([3]int64{0, 0, 1}); code != 0x4 {
		t.Errorf("expected compressed morton code 0x4, got %x\n", code)
	}
	if code := s.mortonCode([3]int64{0, 0, 4}); code != 0x20 {
		t.Errorf("expected compressed morton code 0x20, got %x\n", code)
	}
}

// ramp returns uint8 values 0, 1, 2, ... in x-fastest order for a 4x4x2 xyz volume.
func ramp() []byte {
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

// chunkOf extracts the x-fastest chunk [beg, end) from the 4x4x2 ramp.
func chunkOf(full []byte, beg, end [3]int64) []byte {
	var out []byte
	for z := beg[2]; z < end[2]; z++ {
		for y := beg[1]; y < end[1]; y++ {
			for x := beg[0]; x < end[0]; x++ {
				out = append(out, full[z*16+y*4+x])
			}
		}
	}
	return out
}

const smallInfo = `{
	"@type": "neuroglancer_multiscale_volume",
	"data_type": "uint8",
	"num_channels": 1,
	"type": "image",
	"scales": [{
		"chunk_sizes": [[3, 3, 2]],
		"encoding": %q,
		"key": "s0",
		"resolution": [4, 4, 40],
		"size": [4, 4, 2],
		"voxel_offset": [0, 0, 0]
		%s
	}]
}`

func smallVolume(t *testing.T, encoding, sharding string) *blob.Bucket {
	bucket := memblob.OpenBucket(nil)
	writeObject(t, bucket, "info", []byte(fmt.Sprintf(smallInfo, encoding, sharding)))
	return bucket
}

func openSmall(t *testing.T, bucket *blob.Bucket) *ScaleArray {
	vol, err := Open(context.Background(), bucket, "mem://small")
	if err != nil {
		t.Fatalf("couldn't open volume: %v\n", err)
	}
	s, err := vol.Scale(0)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func checkFullRead(t *testing.T, s *ScaleArray) {
	data, err := s.ReadRegion(context.Background(), ngshow.PointNd{0, 0, 0}, ngshow.PointNd{2, 4, 4})
	if err != nil {
		t.Fatalf("couldn't read region: %v\n", err)
	}
	if diff := cmp.Diff(ramp(), data); diff != "" {
		t.Errorf("bad full read (-want +got):\n%s", diff)
	}
	data, err = s.ReadRegion(context.Background(), ngshow.PointNd{1, 2, 1}, ngshow.PointNd{2, 4, 4})
	if err != nil {
		t.Fatalf("couldn't read region: %v\n", err)
	}
	if diff := cmp.Diff(chunkOf(ramp(), [3]int64{1, 2, 1}, [3]int64{4, 4, 2}), data); diff != "" {
		t.Errorf("bad partial read (-want +got):\n%s", diff)
	}
}

var smallChunks = [][2][3]int64{
	{{0, 0, 0}, {3, 3, 2}},
	{{3, 0, 0}, {4, 3, 2}},
	{{0, 3, 0}, {3, 4, 2}},
	{{3, 3, 0}, {4, 4, 2}},
}

func TestUnshardedRaw(t *testing.T) {
	bucket := smallVolume(t, "raw", "")
	defer bucket.Close()
	for i, c := range smallChunks {
		key := fmt.Sprintf("s0/%d-%d_%d-%d_%d-%d", c[0][0], c[1][0], c[0][1], c[1][1], c[0][2], c[1][2])
		data := chunkOf(ramp(), c[0], c[1])
		if i == 3 {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			zw.Write(data)
			zw.Close()
			writeObject(t, bucket, key+".gz", buf.Bytes())
			continue
		}
		writeObject(t, bucket, key, data)
	}
	s := openSmall(t, bucket)
	if diff := cmp.Diff(ngshow.NdFloat64{40, 4, 4}, s.VoxelSize()); diff != "" {
		t.Errorf("bad voxel size (-want +got):\n%s", diff)
	}
	checkFullRead(t, s)
}

func TestMissingChunksReadZero(t *testing.T) {
	bucket := smallVolume(t, "raw", "")
	defer bucket.Close()
	s := openSmall(t, bucket)
	data, err := s.ReadRegion(context.Background(), ngshow.PointNd{0, 0, 0}, ngshow.PointNd{2, 4, 4})
	if err != nil {
		t.Fatalf("couldn't read region: %v\n", err)
	}
	if diff := cmp.Diff(make([]byte, 32), data); diff != "" {
		t.Errorf("expected zeros (-want +got):\n%s", diff)
	}
	if _, err := s.ReadRegion(context.Background(), ngshow.PointNd{0, 0, 0}, ngshow.PointNd{3, 4, 4}); err == nil {
		t.Errorf("expected out of bounds error\n")
	}
}

func TestUnshardedJPEG(t *testing.T) {
	bucket := smallVolume(t, "jpeg", "")
	defer bucket.Close()
	// Constant chunks survive lossy compression exactly.
	for _, c := range smallChunks {
		w, h := int(c[1][0]-c[0][0]), int((c[1][1]-c[0][1])*(c[1][2]-c[0][2]))
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i := range img.Pix {
			img.Pix[i] = 128
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
			t.Fatal(err)
		}
		key := fmt.Sprintf("s0/%d-%d_%d-%d_%d-%d", c[0][0], c[1][0], c[0][1], c[1][1], c[0][2], c[1][2])
		writeObject(t, bucket, key, buf.Bytes())
	}
	s := openSmall(t, bucket)
	data, err := s.ReadRegion(context.Background(), ngshow.PointNd{0, 0, 0}, ngshow.PointNd{2, 4, 4})
	if err != nil {
		t.Fatalf("couldn't read region: %v\n", err)
	}
	for i, v := range data {
		if v != 128 {
			t.Fatalf("voxel %d: expected 128, got %d\n", i, v)
		}
	}
}

// writeShard stores chunks keyed by chunk ID into a single shard with one minishard.
func writeShard(t *testing.T, bucket *blob.Bucket, key string, ids []uint64, chunks [][]byte) {
	var body, ids64, offsets, sizes []byte
	var prevID uint64
	for i, id := range ids {
		ids64 = binary.LittleEndian.AppendUint64(ids64, id-prevID)
		prevID = id
		offsets = binary.LittleEndian.AppendUint64(offsets, 0)
		sizes = binary.LittleEndian.AppendUint64(sizes, uint64(len(chunks[i])))
		body = append(body, chunks[i]...)
	}
	minishardIndex := append(append(ids64, offsets...), sizes...)
	shardIndex := binary.LittleEndian.AppendUint64(nil, uint64(len(body)))
	shardIndex = binary.LittleEndian.AppendUint64(shardIndex, uint64(len(body)+len(minishardIndex)))
	data := append(append(shardIndex, body...), minishardIndex...)
	writeObject(t, bucket, key, data)
}

func TestSharded(t *testing.T) {
	sharding := `, "sharding": {
		"@type": "neuroglancer_uint64_sharded_v1",
		"data_encoding": "raw",
		"hash": "identity",
		"minishard_bits": 0,
		"minishard_index_encoding": "raw",
		"preshift_bits": 0,
		"shard_bits": 0
	}`
	bucket := smallVolume(t, "raw", sharding)
	defer bucket.Close()

	// Grid is 2x2x1 so the compressed morton code is x | y<<1.
	var chunks [][]byte
	for _, c := range smallChunks {
		chunks = append(chunks, chunkOf(ramp(), c[0], c[1]))
	}
	writeShard(t, bucket, "s0/0.shard", []uint64{0, 1, 2, 3}, chunks)

	s := openSmall(t, bucket)
	fname, minishard, chunkID, err := s.calcShard([3]int64{1, 1, 0})
	if err != nil {
		t.Fatal(err)
	}
	if fname != "s0/0.shard" || minishard != 0 || chunkID != 3 {
		t.Errorf("bad shard calc: %q, %d, %d\n", fname, minishard, chunkID)
	}
	checkFullRead(t, s)
}

func TestBadInfo(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	if _, err := Open(ctx, bucket, "mem://empty"); err == nil {
		t.Errorf("expected error on missing info\n")
	}
	writeObject(t, bucket, "info", []byte(fmt.Sprintf(smallInfo, "compressed_segmentation", "")))
	if _, err := Open(ctx, bucket, "mem://bad"); err == nil {
		t.Errorf("expected error on unsupported encoding\n")
	}
}
