package spangraph

// Summary holds shape statistics of a forest.
type Summary struct {
	Spans     int `json:"spans"`
	Edges     int `json:"edges"`
	Roots     int `json:"roots"`
	Leaves    int `json:"leaves"`
	OpenSpans int `json:"open_spans"`
	MaxDepth  int `json:"max_depth"`
	MaxHeight int `json:"max_height"`
	// DepthHistogram[d] is the number of spans at depth d below their root.
	DepthHistogram []int `json:"depth_histogram"`
}

// Summarize computes the shape statistics of f.
func (f *Forest) Summarize() Summary {
	s := Summary{Spans: len(f.spans), Edges: len(f.children)}
	for i := range f.spans {
		d, h := int(f.depth[i]), int(f.height[i])
		if f.parent[i] == none {
			s.Roots++
		}
		if f.childStart[i] == f.childStart[i+1] {
			s.Leaves++
		}
		if !f.spans[i].Dur.Valid {
			s.OpenSpans++
		}
		s.MaxDepth = max(s.MaxDepth, d)
		s.MaxHeight = max(s.MaxHeight, h)
		for len(s.DepthHistogram) <= d {
			s.DepthHistogram = append(s.DepthHistogram, 0)
		}
		s.DepthHistogram[d]++
	}
	return s
}
