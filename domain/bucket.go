package domain

import (
	"fmt"
	"slices"
)

// BucketDef describes a bucket before any item is placed in it.
type BucketDef struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	Color string `json:"color"`
}

// Bucket is a named, ordered holding area for item ids.
type Bucket struct {
	ID    string
	Label string
	Color string
	Items []string
}

// BucketSet is an immutable, ordered collection of buckets. Every change
// produces a new BucketSet; sequences reachable from an existing value are
// never written to.
type BucketSet struct {
	buckets   []Bucket
	index     map[string]int
	defaultID string
}

// NewBucketSet places every registry item in the default bucket, in catalog
// order. All other buckets start empty.
func NewBucketSet(defs []BucketDef, defaultID string, reg *Registry) (*BucketSet, error) {
	s := &BucketSet{
		buckets:   make([]Bucket, 0, len(defs)),
		index:     make(map[string]int, len(defs)),
		defaultID: defaultID,
	}
	for _, d := range defs {
		if d.ID == "" {
			return nil, ErrEmptyID
		}
		if _, dup := s.index[d.ID]; dup {
			return nil, fmt.Errorf("bucket %s: %w", d.ID, ErrDuplicateID)
		}
		if _, clash := reg.Lookup(d.ID); clash {
			return nil, fmt.Errorf("bucket %s shares an id with an item: %w", d.ID, ErrDuplicateID)
		}
		s.index[d.ID] = len(s.buckets)
		s.buckets = append(s.buckets, Bucket{ID: d.ID, Label: d.Label, Color: d.Color, Items: []string{}})
	}
	di, ok := s.index[defaultID]
	if !ok {
		return nil, ErrUnknownDefaultBucket
	}
	items := make([]string, 0, reg.Len())
	for _, it := range reg.Items() {
		items = append(items, it.ID)
	}
	s.buckets[di].Items = items
	return s, nil
}

// Buckets returns the buckets in display order. Item slices are copies.
func (s *BucketSet) Buckets() []Bucket {
	out := make([]Bucket, len(s.buckets))
	for i, b := range s.buckets {
		b.Items = slices.Clone(b.Items)
		out[i] = b
	}
	return out
}

// Bucket returns a copy of the bucket with the given id.
func (s *BucketSet) Bucket(id string) (Bucket, bool) {
	i, ok := s.index[id]
	if !ok {
		return Bucket{}, false
	}
	b := s.buckets[i]
	b.Items = slices.Clone(b.Items)
	return b, true
}

func (s *BucketSet) HasBucket(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Default returns the id of the bucket holding unassigned items.
func (s *BucketSet) Default() string { return s.defaultID }

// Locate reports which bucket holds itemID and at what position.
func (s *BucketSet) Locate(itemID string) (bucketID string, pos int, ok bool) {
	bi, pos := s.locate(itemID)
	if bi < 0 {
		return "", -1, false
	}
	return s.buckets[bi].ID, pos, true
}

func (s *BucketSet) locate(itemID string) (int, int) {
	for bi := range s.buckets {
		if pos := slices.Index(s.buckets[bi].Items, itemID); pos >= 0 {
			return bi, pos
		}
	}
	return -1, -1
}

// Len returns the number of placed items across all buckets.
func (s *BucketSet) Len() int {
	n := 0
	for _, b := range s.buckets {
		n += len(b.Items)
	}
	return n
}

// Validate checks that every registry item is placed in exactly one bucket
// and that no unknown id is placed.
func (s *BucketSet) Validate(reg *Registry) error {
	seen := make(map[string]string, reg.Len())
	for _, b := range s.buckets {
		for _, id := range b.Items {
			if prev, dup := seen[id]; dup {
				return fmt.Errorf("item %s in both %s and %s: %w", id, prev, b.ID, ErrInvariant)
			}
			if _, known := reg.Lookup(id); !known {
				return fmt.Errorf("unknown item %s in %s: %w", id, b.ID, ErrInvariant)
			}
			seen[id] = b.ID
		}
	}
	if len(seen) != reg.Len() {
		return fmt.Errorf("%d of %d items placed: %w", len(seen), reg.Len(), ErrInvariant)
	}
	return nil
}

// with returns a copy of s in which the buckets at the given indexes carry
// the new item sequences. The bucket header slice is copied; untouched
// sequences are shared.
func (s *BucketSet) with(changes map[int][]string) *BucketSet {
	next := &BucketSet{
		buckets:   slices.Clone(s.buckets),
		index:     s.index,
		defaultID: s.defaultID,
	}
	for i, items := range changes {
		next.buckets[i].Items = items
	}
	return next
}
