package master

import (
	"fmt"

	"github.com/warpdl/warpmaster/common"
)

// DesiredSet is one validated declaration of wanted items. It keeps the
// declaration order.
type DesiredSet struct {
	items []common.Item
	index map[string]int
}

// NewDesiredSet validates items. Keys must be non-empty and unique.
func NewDesiredSet(items []common.Item) (*DesiredSet, error) {
	d := &DesiredSet{
		items: make([]common.Item, 0, len(items)),
		index: make(map[string]int, len(items)),
	}
	for i, it := range items {
		if it.SHA256 == "" {
			return nil, fmt.Errorf("%w (position %d)", ErrInvalidItem, i)
		}
		if _, dup := d.index[it.SHA256]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, it.Short())
		}
		d.index[it.SHA256] = len(d.items)
		d.items = append(d.items, it)
	}
	return d, nil
}

// Len returns the number of items.
func (d *DesiredSet) Len() int { return len(d.items) }

// Contains reports whether key is wanted.
func (d *DesiredSet) Contains(key string) bool {
	_, ok := d.index[key]
	return ok
}

// Items returns a copy of the items in declaration order.
func (d *DesiredSet) Items() []common.Item {
	out := make([]common.Item, len(d.items))
	copy(out, d.items)
	return out
}

// Keys returns the keys in declaration order.
func (d *DesiredSet) Keys() []string {
	out := make([]string, len(d.items))
	for i, it := range d.items {
		out[i] = it.SHA256
	}
	return out
}
