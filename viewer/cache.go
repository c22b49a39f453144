package viewer

import (
	"sync/atomic"

	"github.com/coocood/freecache"
	"github.com/golang/snappy"

	"github.com/janelia-flyem/ngshow/ngshow"
)

// responseCache keeps snappy-compressed response bodies in a freecache.  Keys embed the
// source generation so invalidated data is never returned.
type responseCache struct {
	cache    *freecache.Cache
	attempts uint64
	hits     uint64
}

// newResponseCache returns nil if mbs is not positive.
func newResponseCache(mbs int) *responseCache {
	if mbs <= 0 {
		return nil
	}
	numBytes := mbs << 20
	rc := &responseCache{cache: freecache.NewCache(numBytes)}
	ngshow.Infof("Created freecache of ~ %d MB for responses.\n", mbs)
	return rc
}

func (rc *responseCache) get(key string) ([]byte, bool) {
	if rc == nil {
		return nil, false
	}
	atomic.AddUint64(&rc.attempts, 1)
	compressed, err := rc.cache.Get([]byte(key))
	if err != nil {
		if err != freecache.ErrNotFound {
			ngshow.Errorf("response cache get of %q: %v\n", key, err)
		}
		return nil, false
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		ngshow.Errorf("corrupt response cache entry %q: %v\n", key, err)
		rc.cache.Del([]byte(key))
		return nil, false
	}
	atomic.AddUint64(&rc.hits, 1)
	return data, true
}

func (rc *responseCache) set(key string, data []byte) {
	if rc == nil {
		return
	}
	if err := rc.cache.Set([]byte(key), snappy.Encode(nil, data), 0); err != nil {
		ngshow.Debugf("unable to cache response %q of %d bytes: %v\n", key, len(data), err)
	}
}

// stats returns the number of lookups and hits.
func (rc *responseCache) stats() (attempts, hits uint64) {
	if rc == nil {
		return 0, 0
	}
	return atomic.LoadUint64(&rc.attempts), atomic.LoadUint64(&rc.hits)
}
