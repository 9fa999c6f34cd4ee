package pointcloud

import (
	"sort"

	"github.com/golang/geo/r3"
)

// KDTree is a static 3-d tree over the points of a cloud, built once and then
// queried for nearest neighbors during registration.
type KDTree struct {
	nodes []kdNode
	root  int
}

type kdNode struct {
	pd          PointAndData
	axis        int
	left, right int // -1 when absent
}

// ToKDTree creates a KDTree from the points of the given cloud.
func ToKDTree(cloud PointCloud) *KDTree {
	pts := make([]PointAndData, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		pts = append(pts, PointAndData{p, d})
		return true
	})
	t := &KDTree{nodes: make([]kdNode, 0, len(pts))}
	t.root = t.build(pts, 0)
	return t
}

// Size returns the number of points in the tree.
func (t *KDTree) Size() int {
	return len(t.nodes)
}

func (t *KDTree) build(pts []PointAndData, depth int) int {
	if len(pts) == 0 {
		return -1
	}
	axis := depth % 3
	sort.Slice(pts, func(i, j int) bool {
		return coord(pts[i].P, axis) < coord(pts[j].P, axis)
	})
	mid := len(pts) / 2

	idx := len(t.nodes)
	t.nodes = append(t.nodes, kdNode{pd: pts[mid], axis: axis, left: -1, right: -1})
	// children are built after the append so the node's own index is stable
	left := t.build(pts[:mid], depth+1)
	right := t.build(pts[mid+1:], depth+1)
	t.nodes[idx].left = left
	t.nodes[idx].right = right
	return idx
}

// Nearest returns the nearest neighbor to p, its data, and the distance to
// it. ok is false when the tree is empty.
func (t *KDTree) Nearest(p r3.Vector) (nearest PointAndData, dist float64, ok bool) {
	if len(t.nodes) == 0 {
		return PointAndData{}, 0, false
	}
	best := -1
	bestDistSq := 0.0
	t.search(t.root, p, &best, &bestDistSq)
	n := t.nodes[best]
	return n.pd, p.Sub(n.pd.P).Norm(), true
}

func (t *KDTree) search(idx int, p r3.Vector, best *int, bestDistSq *float64) {
	if idx < 0 {
		return
	}
	n := &t.nodes[idx]
	dSq := p.Sub(n.pd.P).Norm2()
	if *best < 0 || dSq < *bestDistSq {
		*best = idx
		*bestDistSq = dSq
	}

	delta := coord(p, n.axis) - coord(n.pd.P, n.axis)
	near, far := n.left, n.right
	if delta > 0 {
		near, far = far, near
	}
	t.search(near, p, best, bestDistSq)
	if delta*delta < *bestDistSq {
		t.search(far, p, best, bestDistSq)
	}
}

func coord(v r3.Vector, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}
