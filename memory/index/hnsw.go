package index

import (
	"container/heap"
	"math"
	"math/rand"
	"slices"
	"sync"
	"time"
)

// HNSWConfig tunes the graph.
type HNSWConfig struct {
	// M is the max number of links per node on upper layers (2*M on layer 0).
	// Default: 16
	M int

	// EfConstruction is the candidate list size while inserting. Default: 200
	EfConstruction int

	// EfSearch is the candidate list size while searching. It is raised to the
	// requested limit when smaller. Default: 64
	EfSearch int

	// Seed fixes level assignment. Default: time-based.
	Seed int64
}

// DefaultHNSWConfig returns sensible defaults.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{M: 16, EfConstruction: 200, EfSearch: 64}
}

type hnswNode[T any] struct {
	id        uint64
	key       string
	seq       uint64
	vector    []float32
	norm      float64
	payload   T
	level     int
	neighbors [][]uint64
	deleted   bool
}

// HNSW implements Hierarchical Navigable Small World search.
//
// Replaced and removed keys leave a tombstoned node behind that still routes
// searches but never occupies a result slot. The graph is rebuilt from live
// nodes once tombstones outnumber them.
type HNSW[T any] struct {
	cfg  HNSWConfig
	maxM int
	mL   float64

	mu        sync.RWMutex
	nodes     map[uint64]*hnswNode[T]
	live      map[string]*hnswNode[T]
	entry     *hnswNode[T]
	dimension int
	nextID    uint64
	nextSeq   uint64
	rng       *rand.Rand
}

var _ Index[struct{}] = (*HNSW[struct{}])(nil)

// NewHNSW creates an empty HNSW index. Zero config fields take defaults.
func NewHNSW[T any](cfg HNSWConfig) *HNSW[T] {
	def := DefaultHNSWConfig()
	if cfg.M <= 1 {
		cfg.M = def.M
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = def.EfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = def.EfSearch
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &HNSW[T]{
		cfg:   cfg,
		maxM:  cfg.M * 2,
		mL:    1 / math.Log(float64(cfg.M)),
		nodes: make(map[uint64]*hnswNode[T]),
		live:  make(map[string]*hnswNode[T]),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

// selectLevel draws an exponentially decaying layer for a new node.
func (h *HNSW[T]) selectLevel() int {
	level := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.mL))
	return min(level, 16)
}

func (h *HNSW[T]) distance(q []float32, qnorm float64, n *hnswNode[T]) float64 {
	return 1 - cosineWithNorms(q, qnorm, n.vector, n.norm)
}

// compactRatio bounds tombstones relative to live nodes before the graph is
// rebuilt; minTombstones keeps tiny indexes from rebuilding on every write.
const (
	compactRatio  = 1
	minTombstones = 32
)

// Upsert inserts key. Replacing a key tombstones the old node and keeps its
// insertion position.
func (h *HNSW[T]) Upsert(key string, vector []float32, payload T) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dimension != 0 && len(vector) != h.dimension {
		return &DimensionError{Want: h.dimension, Got: len(vector)}
	}
	if h.dimension == 0 {
		h.dimension = len(vector)
	}

	var seq uint64
	if old, ok := h.live[key]; ok {
		old.deleted = true
		seq = old.seq
	} else {
		h.nextSeq++
		seq = h.nextSeq
	}

	v := copyVector(vector)
	h.insert(&hnswNode[T]{
		key:     key,
		seq:     seq,
		vector:  v,
		norm:    Norm(v),
		payload: payload,
	})
	h.maybeCompact()
	return nil
}

// insert links node into the graph and makes it the live node for its key.
func (h *HNSW[T]) insert(node *hnswNode[T]) {
	h.nextID++
	node.id = h.nextID
	node.level = h.selectLevel()
	node.neighbors = make([][]uint64, node.level+1)
	h.nodes[node.id] = node
	h.live[node.key] = node

	if h.entry == nil {
		h.entry = node
		return
	}

	v, level := node.vector, node.level

	// Greedy descent through layers above the new node's level
	curr := []uint64{h.entry.id}
	for lc := h.entry.level; lc > level; lc-- {
		curr = h.closest(h.searchLayer(v, node.norm, curr, 1, lc, false), 1)
	}

	for lc := min(level, h.entry.level); lc >= 0; lc-- {
		maxConn := h.cfg.M
		if lc == 0 {
			maxConn = h.maxM
		}

		candidates := h.searchLayer(v, node.norm, curr, h.cfg.EfConstruction, lc, true)
		if len(candidates) == 0 {
			// Everything reachable is tombstoned; route through whatever was found.
			candidates = h.searchLayer(v, node.norm, curr, h.cfg.EfConstruction, lc, false)
		}
		neighbors := h.closest(candidates, h.cfg.M)
		node.neighbors[lc] = neighbors

		for _, nid := range neighbors {
			nb := h.nodes[nid]
			nb.neighbors[lc] = append(nb.neighbors[lc], node.id)
			if len(nb.neighbors[lc]) > maxConn {
				nb.neighbors[lc] = h.prune(nb, nb.neighbors[lc], maxConn)
			}
		}
		curr = ids(candidates)
	}

	if level > h.entry.level {
		h.entry = node
	}
}

// maybeCompact rebuilds the graph from live nodes once tombstones outnumber
// them, and empties it when nothing is live. Rebuilding drops dead nodes from
// every neighbour list.
func (h *HNSW[T]) maybeCompact() {
	if len(h.live) == 0 {
		clear(h.nodes)
		h.entry = nil
		return
	}
	dead := len(h.nodes) - len(h.live)
	if dead < minTombstones || dead < compactRatio*len(h.live) {
		return
	}

	live := make([]*hnswNode[T], 0, len(h.live))
	for _, n := range h.live {
		live = append(live, n)
	}
	slices.SortFunc(live, func(a, b *hnswNode[T]) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	h.nodes = make(map[uint64]*hnswNode[T], len(live))
	h.live = make(map[string]*hnswNode[T], len(live))
	h.entry = nil
	for _, n := range live {
		h.insert(&hnswNode[T]{
			key:     n.key,
			seq:     n.seq,
			vector:  n.vector,
			norm:    n.norm,
			payload: n.payload,
		})
	}
}

// Tombstones returns the number of dead nodes still linked into the graph.
func (h *HNSW[T]) Tombstones() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes) - len(h.live)
}

type distItem struct {
	id   uint64
	dist float64
}

// distHeap is a min-heap on distance, or a max-heap when max is set.
type distHeap struct {
	items []distItem
	max   bool
}

func (d *distHeap) Len() int { return len(d.items) }
func (d *distHeap) Less(i, j int) bool {
	if d.max {
		return d.items[i].dist > d.items[j].dist
	}
	return d.items[i].dist < d.items[j].dist
}
func (d *distHeap) Swap(i, j int)      { d.items[i], d.items[j] = d.items[j], d.items[i] }
func (d *distHeap) Push(x interface{}) { d.items = append(d.items, x.(distItem)) }
func (d *distHeap) Pop() interface{} {
	old := d.items
	n := len(old)
	item := old[n-1]
	d.items = old[:n-1]
	return item
}

// searchLayer returns up to ef nodes closest to q on layer, nearest first.
// With liveOnly, tombstoned nodes are still traversed but never take one of
// the ef result slots.
func (h *HNSW[T]) searchLayer(q []float32, qnorm float64, entries []uint64, ef int, layer int, liveOnly bool) []distItem {
	visited := make(map[uint64]struct{}, ef*2)
	candidates := &distHeap{}
	found := &distHeap{max: true}

	for _, id := range entries {
		n := h.nodes[id]
		d := h.distance(q, qnorm, n)
		visited[id] = struct{}{}
		heap.Push(candidates, distItem{id: id, dist: d})
		if !liveOnly || !n.deleted {
			heap.Push(found, distItem{id: id, dist: d})
		}
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(distItem)
		if found.Len() >= ef && c.dist > found.items[0].dist {
			break
		}
		cn := h.nodes[c.id]
		if layer >= len(cn.neighbors) {
			continue
		}
		for _, nid := range cn.neighbors[layer] {
			if _, seen := visited[nid]; seen {
				continue
			}
			visited[nid] = struct{}{}

			nb := h.nodes[nid]
			d := h.distance(q, qnorm, nb)
			if found.Len() < ef || d < found.items[0].dist {
				heap.Push(candidates, distItem{id: nid, dist: d})
				if liveOnly && nb.deleted {
					continue
				}
				heap.Push(found, distItem{id: nid, dist: d})
				if found.Len() > ef {
					heap.Pop(found)
				}
			}
		}
	}

	out := make([]distItem, found.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(found).(distItem)
	}
	return out
}

// closest returns the ids of the first m items of a nearest-first list.
func (h *HNSW[T]) closest(items []distItem, m int) []uint64 {
	if len(items) > m {
		items = items[:m]
	}
	return ids(items)
}

// prune keeps the maxConn links of n closest to n.
func (h *HNSW[T]) prune(n *hnswNode[T], links []uint64, maxConn int) []uint64 {
	items := make([]distItem, len(links))
	for i, id := range links {
		items[i] = distItem{id: id, dist: h.distance(n.vector, n.norm, h.nodes[id])}
	}
	slices.SortFunc(items, func(a, b distItem) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		}
		return 0
	})
	return ids(items[:maxConn])
}

func ids(items []distItem) []uint64 {
	out := make([]uint64, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

// Get returns the payload of key and, if requested, a copy of its vector.
func (h *HNSW[T]) Get(key string, withVector bool) (T, []float32, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n, ok := h.live[key]
	if !ok {
		var zero T
		return zero, nil, false
	}
	var v []float32
	if withVector {
		v = copyVector(n.vector)
	}
	return n.payload, v, true
}

// Remove tombstones key if present.
func (h *HNSW[T]) Remove(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n, ok := h.live[key]; ok {
		n.deleted = true
		delete(h.live, key)
		h.maybeCompact()
	}
}

// Search walks the graph for candidates and re-scores them exactly. When the
// live set fits in the candidate list it scans every entry instead.
func (h *HNSW[T]) Search(query []float32, limit int, minRelevance float64, withVectors bool) ([]Match[T], error) {
	if limit <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.live) == 0 {
		return nil, nil
	}
	if len(query) != h.dimension {
		return nil, &DimensionError{Want: h.dimension, Got: len(query)}
	}

	qnorm := Norm(query)
	ef := max(h.cfg.EfSearch, limit)
	top := &topK{k: limit}

	if len(h.live) <= ef {
		for key, n := range h.live {
			h.offer(top, key, n, query, qnorm, minRelevance)
		}
	} else {
		curr := []uint64{h.entry.id}
		for lc := h.entry.level; lc > 0; lc-- {
			curr = h.closest(h.searchLayer(query, qnorm, curr, 1, lc, false), 1)
		}
		for _, c := range h.searchLayer(query, qnorm, curr, ef, 0, true) {
			n := h.nodes[c.id]
			if n.deleted {
				continue
			}
			h.offer(top, n.key, n, query, qnorm, minRelevance)
		}
	}

	hits := top.sorted()
	out := make([]Match[T], len(hits))
	for i, hit := range hits {
		n := h.live[hit.key]
		out[i] = Match[T]{Key: hit.key, Payload: n.payload, Relevance: hit.relevance}
		if withVectors {
			out[i].Vector = copyVector(n.vector)
		}
	}
	return out, nil
}

func (h *HNSW[T]) offer(top *topK, key string, n *hnswNode[T], query []float32, qnorm, minRelevance float64) {
	rel := cosineWithNorms(query, qnorm, n.vector, n.norm)
	if rel < minRelevance {
		return
	}
	top.offer(ranked{key: key, seq: n.seq, relevance: rel})
}

// Len returns the number of live keys.
func (h *HNSW[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live)
}

// Dimension returns the established dimension, or 0 before the first insert.
func (h *HNSW[T]) Dimension() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dimension
}
