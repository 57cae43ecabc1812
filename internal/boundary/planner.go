// Package boundary decides how far a page segment reaches into its neighbors
// (or pulls back from its own edges) before it is sent for restyling.
//
// Offsets come from the page editor as signed pixel values per section:
//
//	offset > 0  borrow that many pixels from the adjacent segment's near edge
//	offset < 0  trim that many pixels from the segment's own edge
//	offset == 0 leave the edge alone
//
// Because each edge has exactly one offset, expanding and cropping the same
// edge can never both apply. The two edges are planned independently.
package boundary

// MinRetainedHeight is the number of original pixels a segment always keeps
// no matter how aggressively its edges are cropped.
const MinRetainedHeight = 100

// Override is the per-section boundary adjustment supplied with a job.
type Override struct {
	SectionID    string `json:"id"`
	OffsetTop    int    `json:"boundaryOffsetTop"`
	OffsetBottom int    `json:"boundaryOffsetBottom"`
}

// IsZero reports whether the override requests no adjustment at all.
func (o Override) IsZero() bool {
	return o.OffsetTop == 0 && o.OffsetBottom == 0
}

// Input describes one segment and its immediate neighbors within a pass.
// PrevHeight and NextHeight are the neighbor heights in the segment's own
// width scale; a value <= 0 means there is no neighbor on that side.
type Input struct {
	OwnHeight  int
	PrevHeight int
	NextHeight int
	Override   Override
}

// Plan is the pixel adjustment for a single segment.
type Plan struct {
	CropTop      int `json:"cropTop"`
	CropBottom   int `json:"cropBottom"`
	ExpandTop    int `json:"expandTop"`
	ExpandBottom int `json:"expandBottom"`
}

// IsIdentity reports whether the plan leaves the segment untouched.
func (p Plan) IsIdentity() bool {
	return p == Plan{}
}

// HasCrop reports whether either edge is trimmed.
func (p Plan) HasCrop() bool {
	return p.CropTop > 0 || p.CropBottom > 0
}

// HasExpansion reports whether either edge borrows from a neighbor.
func (p Plan) HasExpansion() bool {
	return p.ExpandTop > 0 || p.ExpandBottom > 0
}

// Compute derives the Plan for one segment.
func Compute(in Input) Plan {
	var p Plan

	switch top := in.Override.OffsetTop; {
	case top > 0 && in.PrevHeight > 0:
		p.ExpandTop = min(top, in.PrevHeight)
	case top < 0:
		p.CropTop = clampNonNegative(min(-top, in.OwnHeight-MinRetainedHeight))
	}

	switch bottom := in.Override.OffsetBottom; {
	case bottom > 0 && in.NextHeight > 0:
		p.ExpandBottom = min(bottom, in.NextHeight)
	case bottom < 0:
		p.CropBottom = clampNonNegative(min(-bottom, in.OwnHeight-p.CropTop-MinRetainedHeight))
	}

	return p
}

// Index maps section ids to their overrides. Sections without an entry get
// the zero override.
type Index map[string]Override

// NewIndex builds an Index from the overrides supplied with a job. Later
// entries for the same section replace earlier ones.
func NewIndex(overrides []Override) Index {
	idx := make(Index, len(overrides))
	for _, o := range overrides {
		if o.SectionID == "" {
			continue
		}
		idx[o.SectionID] = o
	}
	return idx
}

// For returns the override for a section, or the zero override.
func (idx Index) For(sectionID string) Override {
	if o, ok := idx[sectionID]; ok {
		return o
	}
	return Override{SectionID: sectionID}
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
