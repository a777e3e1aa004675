package pool

import (
	"sync"
	"sync/atomic"
)

type roundRobinStrategy struct {
	ends        []*endpoint
	indexByAddr map[string]uint
	mutex       sync.RWMutex
	size        uint64
	current     uint64
}

func newRoundRobinStrategy(size int) *roundRobinStrategy {
	return &roundRobinStrategy{
		ends:        make([]*endpoint, 0, size),
		indexByAddr: make(map[string]uint),
		size:        0,
		current:     0,
	}
}

func (r *roundRobinStrategy) GetEndpointByAddr(addr string) *endpoint {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	index, found := r.indexByAddr[addr]
	if !found {
		return nil
	}

	return r.ends[index]
}

func (r *roundRobinStrategy) DeleteEndpointByAddr(addr string) *endpoint {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.size == 0 {
		return nil
	}

	index, found := r.indexByAddr[addr]
	if !found {
		return nil
	}

	delete(r.indexByAddr, addr)

	end := r.ends[index]
	r.ends = append(r.ends[:index], r.ends[index+1:]...)
	r.size -= 1

	for k, v := range r.indexByAddr {
		if v > index {
			r.indexByAddr[k] = v - 1
		}
	}

	return end
}

func (r *roundRobinStrategy) IsEmpty() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.size == 0
}

func (r *roundRobinStrategy) GetNextEndpoint() *endpoint {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.size == 0 {
		return nil
	}
	return r.ends[r.nextIndex()]
}

func (r *roundRobinStrategy) GetEndpoints() []*endpoint {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ret := make([]*endpoint, len(r.ends))
	copy(ret, r.ends)

	return ret
}

func (r *roundRobinStrategy) AddEndpoint(end *endpoint) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if idx, ok := r.indexByAddr[end.addr]; ok {
		r.ends[idx] = end
	} else {
		r.ends = append(r.ends, end)
		r.indexByAddr[end.addr] = uint(r.size)
		r.size += 1
	}
}

func (r *roundRobinStrategy) nextIndex() uint64 {
	next := atomic.AddUint64(&r.current, 1)
	return (next - 1) % r.size
}
