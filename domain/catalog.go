package domain

import (
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Catalog is the static description a board is initialised from.
type Catalog struct {
	Items         []Item      `json:"items"`
	Buckets       []BucketDef `json:"buckets"`
	DefaultBucket string      `json:"defaultBucket"`
}

// Validate checks that the catalog describes a board: ids are non-empty and
// unique across items and buckets, and the default bucket exists.
func (c Catalog) Validate() error {
	if len(c.Buckets) == 0 {
		return fmt.Errorf("catalog has no buckets: %w", ErrUnknownDefaultBucket)
	}
	ids := make(map[string]struct{}, len(c.Items)+len(c.Buckets))
	for _, b := range c.Buckets {
		if b.ID == "" {
			return fmt.Errorf("bucket: %w", ErrEmptyID)
		}
		if _, dup := ids[b.ID]; dup {
			return fmt.Errorf("bucket %s: %w", b.ID, ErrDuplicateID)
		}
		ids[b.ID] = struct{}{}
	}
	if _, ok := ids[c.DefaultBucket]; !ok {
		return fmt.Errorf("%q: %w", c.DefaultBucket, ErrUnknownDefaultBucket)
	}
	for _, it := range c.Items {
		if it.ID == "" {
			return fmt.Errorf("item: %w", ErrEmptyID)
		}
		if _, dup := ids[it.ID]; dup {
			return fmt.Errorf("item %s: %w", it.ID, ErrDuplicateID)
		}
		ids[it.ID] = struct{}{}
	}
	return nil
}

// LoadCatalog decodes a JSON catalog and validates it. Items without an id
// get a generated one.
func LoadCatalog(r io.Reader) (Catalog, error) {
	dec := sonic.ConfigStd.NewDecoder(r)
	dec.DisallowUnknownFields()
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	for i := range c.Items {
		if c.Items[i].ID == "" {
			c.Items[i].ID = uuid.NewString()
		}
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

func LoadCatalogFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, err
	}
	defer f.Close()
	return LoadCatalog(f)
}

const DefaultBucketID = "free"

var defaultImages = []string{
	"GolemCard.png",
	"MegaKnight.png",
	"BabyDragonCard.png",
	"BarbariansCard.png",
	"BomberCard.png",
	"DarkPrinceCard.png",
	"ElixirGolemCard.png",
	"MinerCard.png",
	"PEKKACard.png",
	"RagingPrinceCard.png",
	"SkeletonsCard.png",
}

// DefaultCatalog returns the built-in tier list: five tiers plus the "free"
// bucket holding every card.
func DefaultCatalog() Catalog {
	items := make([]Item, 0, len(defaultImages))
	for _, img := range defaultImages {
		items = append(items, Item{ID: uuid.NewString(), Payload: Payload{Image: img}})
	}
	return Catalog{
		Items: items,
		Buckets: []BucketDef{
			{ID: "S", Label: "S", Color: "rgb(255, 127, 127)"},
			{ID: "A", Label: "A", Color: "rgb(255, 192, 127)"},
			{ID: "B", Label: "B", Color: "rgb(255, 255, 127)"},
			{ID: "C", Label: "C", Color: "rgb(127, 255, 127)"},
			{ID: "D", Label: "D", Color: "rgb(127, 192, 255)"},
			{ID: DefaultBucketID, Color: "rgb(200, 200, 200)"},
		},
		DefaultBucket: DefaultBucketID,
	}
}
