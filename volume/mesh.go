package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/janelia-flyem/ngshow/ngshow"
)

// surfaceMesh builds the voxel-boundary surface of all voxels labeled id within a 3d
// label volume.  Every face between a labeled voxel and a differently-labeled (or
// outside) neighbor contributes two triangles.  Vertices are placed at voxel corners in
// physical units, in the axis order of the volume.
//
// The encoding is neuroglancer's legacy single-fragment format: a little-endian uint32
// vertex count, float32 xyz per vertex, then uint32 triangle indices.
func surfaceMesh(data []byte, shape ngshow.PointNd, dataType DataType, id uint64, voxelSize ngshow.NdFloat64, voxelOffset ngshow.PointNd) ([]byte, error) {
	if len(shape) != 3 {
		return nil, fmt.Errorf("%w: meshes need a 3d volume, not rank %d", ErrNoMesh, len(shape))
	}
	elemSize := dataType.Size()
	st := strides(shape, elemSize)

	vertexIDs := make(map[[3]int64]uint32)
	var vertices [][3]int64
	var indices []uint32
	vertexID := func(corner [3]int64) uint32 {
		if vid, found := vertexIDs[corner]; found {
			return vid
		}
		vid := uint32(len(vertices))
		vertexIDs[corner] = vid
		vertices = append(vertices, corner)
		return vid
	}

	isLabel := func(idx [3]int64) bool {
		for d := 0; d < 3; d++ {
			if idx[d] < 0 || idx[d] >= shape[d] {
				return false
			}
		}
		off := idx[0]*st[0] + idx[1]*st[1] + idx[2]*st[2]
		return labelAt(data, off, dataType) == id
	}

	forEachIndex(shape, func(p ngshow.PointNd) {
		voxel := [3]int64{p[0], p[1], p[2]}
		if !isLabel(voxel) {
			return
		}
		for axis := 0; axis < 3; axis++ {
			for _, dir := range []int64{-1, 1} {
				neighbor := voxel
				neighbor[axis] += dir
				if isLabel(neighbor) {
					continue
				}
				b, e := (axis+1)%3, (axis+2)%3
				var corners [4][3]int64
				for i := range corners {
					corners[i] = voxel
					if dir > 0 {
						corners[i][axis]++
					}
				}
				corners[1][b]++
				corners[2][b]++
				corners[2][e]++
				corners[3][e]++
				v0, v1, v2, v3 := vertexID(corners[0]), vertexID(corners[1]), vertexID(corners[2]), vertexID(corners[3])
				if dir > 0 {
					indices = append(indices, v0, v1, v2, v0, v2, v3)
				} else {
					indices = append(indices, v0, v2, v1, v0, v3, v2)
				}
			}
		}
	})
	if len(vertices) == 0 {
		return nil, fmt.Errorf("%w: object %d not present", ErrNoMesh, id)
	}

	var buf bytes.Buffer
	buf.Grow(4 + 12*len(vertices) + 4*len(indices))
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(vertices)))
	buf.Write(scratch[:])
	for _, v := range vertices {
		for d := 0; d < 3; d++ {
			pos := float64(v[d]+voxelOffset[d]) * voxelSize[d]
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(float32(pos)))
			buf.Write(scratch[:])
		}
	}
	for _, i := range indices {
		binary.LittleEndian.PutUint32(scratch[:], i)
		buf.Write(scratch[:])
	}
	return buf.Bytes(), nil
}
