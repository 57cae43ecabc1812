package restyle

import "github.com/fpang/page-restyle/internal/compositor"

// StyleChain holds the style reference for one pass. It is written at most
// once, by the pass's first segment, and only read afterwards.
type StyleChain struct {
	seed *compositor.Image
	ref  *compositor.Image
}

// NewStyleChain starts a pass. seed, when non-nil, is offered as the
// reference until the pass's own first segment produces one.
func NewStyleChain(seed *compositor.Image) *StyleChain {
	return &StyleChain{seed: seed}
}

// Reference returns the current style reference, or nil.
func (c *StyleChain) Reference() *compositor.Image {
	if c.ref != nil {
		return c.ref
	}
	return c.seed
}

// Established reports whether the pass's own reference has been set.
func (c *StyleChain) Established() bool {
	return c.ref != nil
}

// SetIfFirst records img as the reference when index is 0 and no reference
// has been set yet. It reports whether the reference was set.
func (c *StyleChain) SetIfFirst(index int, img *compositor.Image) bool {
	if index != 0 || img == nil || c.ref != nil {
		return false
	}
	c.ref = img
	return true
}
