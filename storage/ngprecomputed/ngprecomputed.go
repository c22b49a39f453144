/*
	Package ngprecomputed reads Neuroglancer precomputed volumes from a blob bucket.

	Every scale of a volume is exposed as a volume.Array with axes in (channel,) z, y, x
	order so that the scales can be combined into a pyramid.  Both unsharded chunk
	files and the neuroglancer_uint64_sharded_v1 format with identity hashing are read.
*/
package ngprecomputed

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"gocloud.dev/blob"

	"github.com/janelia-flyem/ngshow/ngshow"
	"github.com/janelia-flyem/ngshow/storage"
	"github.com/janelia-flyem/ngshow/volume"
)

func gzipUncompress(in []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, fmt.Errorf("can't uncompress gzip data: %v", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("can't read gzip data: %v", err)
	}
	return out, nil
}

func jpegUncompress(in []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("only grayscale JPEG chunks are supported, got %T", img)
	}
	b := gray.Bounds()
	if gray.Stride == b.Dx() {
		return gray.Pix, nil
	}
	out := make([]byte, 0, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		out = append(out, gray.Pix[y*gray.Stride:y*gray.Stride+b.Dx()]...)
	}
	return out, nil
}

type ngShard struct {
	FormatType    string `json:"@type"` // should be "neuroglancer_uint64_sharded_v1"
	Hash          string `json:"hash"`
	MinishardBits uint8  `json:"minishard_bits"`
	PreshiftBits  uint8  `json:"preshift_bits"`
	ShardBits     uint8  `json:"shard_bits"`
	IndexEncoding string `json:"minishard_index_encoding"` // "raw" or "gzip"
	DataEncoding  string `json:"data_encoding"`            // "raw" or "gzip"
}

type ngScale struct {
	ChunkSizes  [][3]int64 `json:"chunk_sizes"`
	Encoding    string     `json:"encoding"`
	Key         string     `json:"key"`
	Resolution  [3]float64 `json:"resolution"`
	Sharding    *ngShard   `json:"sharding,omitempty"`
	Size        [3]int64   `json:"size"`
	VoxelOffset [3]int64   `json:"voxel_offset"`
}

type ngVolume struct {
	StoreType     string    `json:"@type"`     // must be "neuroglancer_multiscale_volume"
	VolumeType    string    `json:"type"`      // "image" or "segmentation"
	DataType      string    `json:"data_type"` // "uint8", ... "float32"
	NumChannels   int64     `json:"num_channels"`
	Scales        []ngScale `json:"scales"`
	MeshDir       string    `json:"mesh"`               // optional if VolumeType == segmentation
	SkelDir       string    `json:"skeletons"`          // optional if VolumeType == segmentation
	LabelPropsDir string    `json:"segment_properties"` // optional if VolumeType == segmentation
}

// Volume is an opened precomputed volume.
type Volume struct {
	ref    string
	vol    ngVolume
	bucket *blob.Bucket
	scales []*ScaleArray
}

// Open reads the info file of a precomputed volume rooted at bucket.  The ref is only
// used for messages.
func Open(ctx context.Context, bucket *blob.Bucket, ref string) (*Volume, error) {
	ngshow.Infof("Trying to open NG-Precomputed volume @ %q ...\n", ref)
	v := &Volume{ref: ref, bucket: bucket}
	if err := storage.ReadJSON(ctx, bucket, "info", &v.vol); err != nil {
		return nil, err
	}
	if err := v.initialize(); err != nil {
		return nil, fmt.Errorf("precomputed volume %q: %v", ref, err)
	}
	ngshow.Infof("Loaded %q [%s] @ %q with %d scales\n", v.vol.StoreType, v.vol.VolumeType, ref, len(v.scales))
	return v, nil
}

func (v *Volume) initialize() error {
	if v.vol.StoreType != "neuroglancer_multiscale_volume" {
		return fmt.Errorf("volume type %q != neuroglancer_multiscale_volume", v.vol.StoreType)
	}
	dataType := volume.DataType(v.vol.DataType)
	if dataType.Size() == 0 {
		return fmt.Errorf("unsupported data type %q", v.vol.DataType)
	}
	if v.vol.NumChannels == 0 {
		v.vol.NumChannels = 1
	}
	if len(v.vol.Scales) == 0 {
		return fmt.Errorf("no scales given")
	}
	v.scales = make([]*ScaleArray, len(v.vol.Scales))
	for n := range v.vol.Scales {
		s, err := newScaleArray(v, n)
		if err != nil {
			return fmt.Errorf("scale %d: %v", n, err)
		}
		v.scales[n] = s
	}
	return nil
}

func (v *Volume) String() string {
	return fmt.Sprintf("neuroglancer precomputed volume [%s] @ %s", v.vol.VolumeType, v.ref)
}

// VolumeType returns the volume type recorded in the info file.
func (v *Volume) VolumeType() volume.VolumeType {
	if v.vol.VolumeType == "segmentation" {
		return volume.Segmentation
	}
	return volume.Image
}

func (v *Volume) NumScales() int {
	return len(v.scales)
}

// Scale returns the array for the given scale index.
func (v *Volume) Scale(i int) (*ScaleArray, error) {
	if i < 0 || i >= len(v.scales) {
		return nil, fmt.Errorf("scale %d does not exist, volume has %d scales", i, len(v.scales))
	}
	return v.scales[i], nil
}

// Scales returns the arrays for all scales as volume.Array.
func (v *Volume) Scales() []volume.Array {
	arrays := make([]volume.Array, len(v.scales))
	for i, s := range v.scales {
		arrays[i] = s
	}
	return arrays
}

// ScaleArray is a single scale of a precomputed volume.
type ScaleArray struct {
	vol      *Volume
	scale    *ngScale
	dataType volume.DataType
	channels int64

	gridShape [3]int64 // number of chunks along x, y, z

	// sharding parameters
	numBits       [3]uint8 // required bits per dimension of the chunk grid
	maxBits       uint8    // max of required bits across dimensions
	minishardMask uint64   // bit mask for minishard bits in hashed chunk ID
	shardMask     uint64   // bit mask for shard bits after removing minishard bits
	shardIndexEnd uint64   // where minishard indices begin in every file

	// cached shard information
	shardIndex   map[string]*shardT // cache of shard filename to shard data
	shardIndexMu sync.RWMutex
}

type shardT struct {
	sync.RWMutex
	index      []byte // fixed-size shard index
	minishards map[uint64]map[uint64]valueLoc
}

type valueLoc struct {
	pos  uint64 // byte of value start relative to start of file
	size uint64 // size of value in bytes
}

// log2 returns the power of 2 necessary to cover the given value.
func log2(value int64) uint8 {
	var exp uint8
	pow := int64(1)
	for pow < value {
		pow *= 2
		exp++
	}
	return exp
}

func newScaleArray(v *Volume, n int) (*ScaleArray, error) {
	scale := &v.vol.Scales[n]
	if len(scale.ChunkSizes) == 0 {
		return nil, fmt.Errorf("no chunk sizes")
	}
	switch scale.Encoding {
	case "raw", "jpeg":
	default:
		return nil, fmt.Errorf("unsupported encoding %q", scale.Encoding)
	}
	s := &ScaleArray{
		vol:        v,
		scale:      scale,
		dataType:   volume.DataType(v.vol.DataType),
		channels:   v.vol.NumChannels,
		shardIndex: make(map[string]*shardT),
	}
	if scale.Encoding == "jpeg" && (s.dataType != volume.Uint8 || s.channels != 1) {
		return nil, fmt.Errorf("jpeg encoding only supported for single channel uint8")
	}
	chunkSize := scale.ChunkSizes[0]
	for dim := 0; dim < 3; dim++ {
		if chunkSize[dim] <= 0 || scale.Size[dim] <= 0 {
			return nil, fmt.Errorf("bad chunk size %v or size %v", chunkSize, scale.Size)
		}
		s.gridShape[dim] = (scale.Size[dim] + chunkSize[dim] - 1) / chunkSize[dim]
	}
	if scale.Sharding == nil {
		return s, nil
	}

	if scale.Sharding.FormatType != "neuroglancer_uint64_sharded_v1" {
		return nil, fmt.Errorf("unexpected shard type: %s", scale.Sharding.FormatType)
	}
	for dim := 0; dim < 3; dim++ {
		numBits := log2(s.gridShape[dim])
		if numBits > s.maxBits {
			s.maxBits = numBits
		}
		s.numBits[dim] = numBits
	}
	ngshow.Debugf("Scale %q requires %v bits per dimension, max %d.\n", scale.Key, s.numBits, s.maxBits)

	minishardBits := scale.Sharding.MinishardBits
	shardBits := scale.Sharding.ShardBits
	s.minishardMask = (uint64(1) << minishardBits) - 1
	s.shardMask = (uint64(1) << shardBits) - 1
	s.shardIndexEnd = (uint64(1) << minishardBits) * 16
	ngshow.Debugf("minishard mask: %0*x, shard mask: %0*x\n", 16, s.minishardMask, 16, s.shardMask)
	return s, nil
}

func (s *ScaleArray) String() string {
	return fmt.Sprintf("scale %q of %s", s.scale.Key, s.vol)
}

func (s *ScaleArray) DataType() volume.DataType {
	return s.dataType
}

// Shape is (channels,) z, y, x.
func (s *ScaleArray) Shape() ngshow.PointNd {
	sz := s.scale.Size
	shape := ngshow.PointNd{sz[2], sz[1], sz[0]}
	if s.channels > 1 {
		shape = append(ngshow.PointNd{s.channels}, shape...)
	}
	return shape
}

func (s *ScaleArray) VoxelSize() ngshow.NdFloat64 {
	r := s.scale.Resolution
	return ngshow.NdFloat64{r[2], r[1], r[0]}
}

func (s *ScaleArray) Offset() ngshow.NdFloat64 {
	r, o := s.scale.Resolution, s.scale.VoxelOffset
	return ngshow.NdFloat64{float64(o[2]) * r[2], float64(o[1]) * r[1], float64(o[0]) * r[0]}
}

func (s *ScaleArray) chunkShape() ngshow.PointNd {
	c := s.scale.ChunkSizes[0]
	shape := ngshow.PointNd{c[2], c[1], c[0]}
	if s.channels > 1 {
		shape = append(ngshow.PointNd{s.channels}, shape...)
	}
	return shape
}

// chunkBounds returns the voxel bounds in x, y, z of the chunk at grid position g.
func (s *ScaleArray) chunkBounds(g [3]int64) (beg, end [3]int64) {
	c := s.scale.ChunkSizes[0]
	for dim := 0; dim < 3; dim++ {
		beg[dim] = s.scale.VoxelOffset[dim] + g[dim]*c[dim]
		end[dim] = beg[dim] + c[dim]
		if limit := s.scale.VoxelOffset[dim] + s.scale.Size[dim]; end[dim] > limit {
			end[dim] = limit
		}
	}
	return
}

// Note that for a 3D morton code in a uint64, we could only allow 21 bits for each of
// the three dimensions.  Most datasets aren't symmetrical in size across dimensions, so
// the compressed morton code drops the bits that would always be zero because a
// dimension's chunk grid is limited in size.  Going bit by bit from LSB to MSB, each
// dimension contributes a bit only while it still has significant bits.
func (s *ScaleArray) mortonCode(g [3]int64) (mortonCode uint64) {
	var coords [3]uint64
	for dim := 0; dim < 3; dim++ {
		coords[dim] = uint64(g[dim])
	}
	var outBit uint8
	for curBit := uint8(0); curBit < s.maxBits; curBit++ {
		for dim := 0; dim < 3; dim++ {
			if curBit < s.numBits[dim] {
				mortonCode |= (coords[dim] & 1) << outBit
				outBit++
				coords[dim] >>= 1
			}
		}
	}
	return
}

func (s *ScaleArray) calcShard(g [3]int64) (fname string, minishard, chunkID uint64, err error) {
	sharding := s.scale.Sharding
	chunkID = s.mortonCode(g)
	hashedID := chunkID >> sharding.PreshiftBits
	switch sharding.Hash {
	case "identity":
	default:
		err = fmt.Errorf("unimplemented hash method for shard: %q", sharding.Hash)
		return
	}
	minishard = hashedID & s.minishardMask
	shard := (hashedID >> sharding.MinishardBits) & s.shardMask
	shardPadding := int(sharding.ShardBits+3) / 4
	if shardPadding == 0 {
		shardPadding = 1
	}
	fname = fmt.Sprintf("%s/%0*x.shard", s.scale.Key, shardPadding, shard)
	return
}

func (s *ScaleArray) getMinishardMap(ctx context.Context, shardFile string, minishard uint64) (map[uint64]valueLoc, error) {
	s.shardIndexMu.RLock()
	shard, found := s.shardIndex[shardFile]
	s.shardIndexMu.RUnlock()
	if !found {
		var err error
		if shard, err = s.loadShardIndex(ctx, shardFile); err != nil {
			return nil, err
		}
		if shard == nil {
			return nil, nil
		}
		s.shardIndexMu.Lock()
		s.shardIndex[shardFile] = shard
		s.shardIndexMu.Unlock()
	}

	shard.RLock()
	minishardMap, found := shard.minishards[minishard]
	shard.RUnlock()
	if !found {
		var err error
		if minishardMap, err = s.loadMinishardMap(ctx, shardFile, shard, minishard); err != nil {
			return nil, err
		}
		shard.Lock()
		shard.minishards[minishard] = minishardMap
		shard.Unlock()
	}
	return minishardMap, nil
}

func (s *ScaleArray) loadShardIndex(ctx context.Context, shardFile string) (*shardT, error) {
	timedLog := ngshow.NewTimeLog()
	shardData, err := storage.RangeRead(ctx, s.vol.bucket, shardFile, 0, s.shardIndexEnd)
	if err != nil {
		return nil, err
	}
	if shardData == nil {
		timedLog.Debugf("shard file %q doesn't seem to exist", shardFile)
		return nil, nil
	}
	if uint64(len(shardData)) != s.shardIndexEnd {
		return nil, fmt.Errorf("shard file %q has truncated index of %d bytes", shardFile, len(shardData))
	}
	timedLog.Debugf("loaded shard index from object %q", shardFile)
	return &shardT{
		index:      shardData,
		minishards: make(map[uint64]map[uint64]valueLoc),
	}, nil
}

func (s *ScaleArray) loadMinishardMap(ctx context.Context, shardFile string, shard *shardT, minishard uint64) (map[uint64]valueLoc, error) {
	timedLog := ngshow.NewTimeLog()

	pos := minishard * 16
	begByte := binary.LittleEndian.Uint64(shard.index[pos:pos+8]) + s.shardIndexEnd
	endByte := binary.LittleEndian.Uint64(shard.index[pos+8:pos+16]) + s.shardIndexEnd
	if endByte == begByte {
		return map[uint64]valueLoc{}, nil
	}
	rawData, err := storage.RangeRead(ctx, s.vol.bucket, shardFile, begByte, endByte-begByte)
	if err != nil {
		return nil, err
	}

	var minishardData []byte
	switch s.scale.Sharding.IndexEncoding {
	case "raw", "":
		minishardData = rawData
	case "gzip":
		if minishardData, err = gzipUncompress(rawData); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown minishard_index_encoding: %s", s.scale.Sharding.IndexEncoding)
	}

	indexSize := len(minishardData)
	if indexSize%24 != 0 {
		return nil, fmt.Errorf("minishard data length is %d bytes, which is not multiple of 24", indexSize)
	}
	n := uint64(indexSize) / 24
	minishardMap := make(map[uint64]valueLoc, n)

	// Chunk IDs and offsets are delta encoded, with each offset relative to the end of
	// the previous chunk.
	var chunkID, offset uint64
	idPos, offsetPos, sizePos := uint64(0), n*8, n*16
	sizeAcc := s.shardIndexEnd
	for i := uint64(0); i < n; i++ {
		chunkID += binary.LittleEndian.Uint64(minishardData[idPos : idPos+8])
		offset += binary.LittleEndian.Uint64(minishardData[offsetPos : offsetPos+8])
		size := binary.LittleEndian.Uint64(minishardData[sizePos : sizePos+8])
		minishardMap[chunkID] = valueLoc{pos: offset + sizeAcc, size: size}
		sizeAcc += size
		idPos += 8
		offsetPos += 8
		sizePos += 8
	}
	timedLog.Debugf("loaded minishard map with %s encoding: %d entries, %d bytes", s.scale.Sharding.IndexEncoding, n, indexSize)
	return minishardMap, nil
}

// readShardedChunk returns the stored bytes for a chunk or nil if it is absent.
func (s *ScaleArray) readShardedChunk(ctx context.Context, g [3]int64) ([]byte, error) {
	shardFile, minishard, chunkID, err := s.calcShard(g)
	if err != nil {
		return nil, err
	}
	minishardMap, err := s.getMinishardMap(ctx, shardFile, minishard)
	if err != nil || minishardMap == nil {
		return nil, err
	}
	loc, found := minishardMap[chunkID]
	if !found {
		return nil, nil
	}
	val, err := storage.RangeRead(ctx, s.vol.bucket, shardFile, loc.pos, loc.size)
	if err != nil {
		return nil, err
	}
	if s.scale.Sharding.DataEncoding == "gzip" {
		return gzipUncompress(val)
	}
	return val, nil
}

func (s *ScaleArray) chunkKey(beg, end [3]int64) string {
	return fmt.Sprintf("%s/%d-%d_%d-%d_%d-%d", s.scale.Key, beg[0], end[0], beg[1], end[1], beg[2], end[2])
}

func (s *ScaleArray) readUnshardedChunk(ctx context.Context, beg, end [3]int64) ([]byte, error) {
	key := s.chunkKey(beg, end)
	data, err := storage.ReadObject(ctx, s.vol.bucket, key)
	if err == nil {
		return data, nil
	}
	if !storage.IsNotFound(err) {
		return nil, err
	}
	// Some writers store gzip-compressed chunks under a .gz suffix.
	data, err = storage.ReadObject(ctx, s.vol.bucket, key+".gz")
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return gzipUncompress(data)
}

// fetchChunk reads and decodes the chunk at the (channel,) z, y, x grid index.
func (s *ScaleArray) fetchChunk(ctx context.Context, chunkIdx ngshow.PointNd) ([]byte, ngshow.PointNd, error) {
	n := len(chunkIdx)
	g := [3]int64{chunkIdx[n-1], chunkIdx[n-2], chunkIdx[n-3]}
	beg, end := s.chunkBounds(g)
	dataShape := ngshow.PointNd{end[2] - beg[2], end[1] - beg[1], end[0] - beg[0]}
	if s.channels > 1 {
		dataShape = append(ngshow.PointNd{s.channels}, dataShape...)
	}

	var stored []byte
	var err error
	if s.scale.Sharding != nil {
		stored, err = s.readShardedChunk(ctx, g)
	} else {
		stored, err = s.readUnshardedChunk(ctx, beg, end)
	}
	if err != nil || stored == nil {
		return nil, nil, err
	}

	var data []byte
	switch s.scale.Encoding {
	case "raw":
		data = stored
	case "jpeg":
		if data, err = jpegUncompress(stored); err != nil {
			return nil, nil, fmt.Errorf("bad JPEG chunk %v of scale %q: %v", g, s.scale.Key, err)
		}
	}
	if want := dataShape.Prod() * int64(s.dataType.Size()); int64(len(data)) != want {
		return nil, nil, fmt.Errorf("chunk %v of scale %q has %d bytes, expected %d", g, s.scale.Key, len(data), want)
	}
	return data, dataShape, nil
}

// ReadRegion returns the voxels within [start, end) in (channel,) z, y, x order.
// Absent chunks read as zero.
func (s *ScaleArray) ReadRegion(ctx context.Context, start, end ngshow.PointNd) ([]byte, error) {
	timedLog := ngshow.NewTimeLog()
	out, err := volume.ReadChunked(ctx, s.dataType, s.Shape(), s.chunkShape(), start, end, 0, s.fetchChunk)
	if err != nil {
		return nil, err
	}
	timedLog.Debugf("Read region %s-%s from %s", start, end, s)
	return out, nil
}

// IsVolume returns true if bucket holds a precomputed info file.
func IsVolume(ctx context.Context, bucket *blob.Bucket) bool {
	ok, err := bucket.Exists(ctx, "info")
	return err == nil && ok
}

// ScaleKeys returns the scale keys in info file order.
func (v *Volume) ScaleKeys() []string {
	keys := make([]string, len(v.vol.Scales))
	for i, s := range v.vol.Scales {
		keys[i] = strings.TrimSuffix(s.Key, "/")
	}
	return keys
}
