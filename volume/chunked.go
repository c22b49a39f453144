package volume

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/ngshow/ngshow"
)

// MaxConcurrentChunks bounds the number of chunks fetched in parallel for one region.
const MaxConcurrentChunks = 10

// ChunkFetcher returns the decoded chunk with the given grid index along with the
// shape of the returned data.  A nil slice means the chunk is absent.
type ChunkFetcher func(ctx context.Context, chunkIdx ngshow.PointNd) (data []byte, dataShape ngshow.PointNd, err error)

// ReadChunked assembles the region [start, end) of an array with the given shape from
// chunks laid out on a regular grid of chunkShape.  Chunks are fetched concurrently and
// absent chunks leave the fill value in place.
func ReadChunked(ctx context.Context, dataType DataType, shape, chunkShape, start, end ngshow.PointNd, fillValue float64, fetch ChunkFetcher) ([]byte, error) {
	if err := CheckRegion(shape, start, end); err != nil {
		return nil, err
	}
	size, err := start.Size(end)
	if err != nil {
		return nil, err
	}
	elemSize := dataType.Size()
	out := make([]byte, size.Prod()*int64(elemSize))
	if len(out) == 0 {
		return out, nil
	}
	Fill(out, dataType, fillValue)

	rank := len(shape)
	first := make(ngshow.PointNd, rank)
	numChunks := make(ngshow.PointNd, rank)
	for d := 0; d < rank; d++ {
		first[d] = start[d] / chunkShape[d]
		numChunks[d] = (end[d]-1)/chunkShape[d] - first[d] + 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentChunks)
	forEachIndex(numChunks, func(idx ngshow.PointNd) {
		chunkIdx := make(ngshow.PointNd, rank)
		for d := range idx {
			chunkIdx[d] = first[d] + idx[d]
		}
		g.Go(func() error {
			data, dataShape, err := fetch(gctx, chunkIdx)
			if err != nil || data == nil {
				return err
			}
			srcStart := make(ngshow.PointNd, rank)
			dstStart := make(ngshow.PointNd, rank)
			boxSize := make(ngshow.PointNd, rank)
			for d := 0; d < rank; d++ {
				chunkBeg := chunkIdx[d] * chunkShape[d]
				lo, hi := chunkBeg, chunkBeg+dataShape[d]
				if start[d] > lo {
					lo = start[d]
				}
				if end[d] < hi {
					hi = end[d]
				}
				if hi <= lo {
					return nil
				}
				srcStart[d] = lo - chunkBeg
				dstStart[d] = lo - start[d]
				boxSize[d] = hi - lo
			}
			return CopyBox(out, size, dstStart, data, dataShape, srcStart, boxSize, elemSize)
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
