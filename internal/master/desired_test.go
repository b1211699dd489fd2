package master

import (
	"errors"
	"strings"
	"testing"

	"github.com/warpdl/warpmaster/common"
)

func TestNewDesiredSet(t *testing.T) {
	long := strings.Repeat("a", 500)
	tests := []struct {
		name    string
		items   []common.Item
		want    []string
		wantErr error
	}{
		{"empty declaration", nil, []string{}, nil},
		{"keeps order", []common.Item{{SHA256: "c"}, {SHA256: "a"}, {SHA256: "b"}}, []string{"c", "a", "b"}, nil},
		{"long key", []common.Item{{SHA256: long}}, []string{long}, nil},
		{"empty key", []common.Item{{SHA256: "a"}, {SHA256: ""}}, nil, ErrInvalidItem},
		{"duplicate key", []common.Item{{SHA256: "a"}, {SHA256: "a"}}, nil, ErrDuplicateItem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDesiredSet(tt.items)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			got := d.Keys()
			if len(got) != len(tt.want) {
				t.Fatalf("Keys = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Keys = %v, want %v", got, tt.want)
				}
				if !d.Contains(got[i]) {
					t.Fatalf("Contains(%q) = false", got[i])
				}
			}
		})
	}
}

func TestDesiredSetLookups(t *testing.T) {
	d, err := NewDesiredSet([]common.Item{{SHA256: "k", Duration: 5}})
	if err != nil {
		t.Fatal(err)
	}
	items := d.Items()
	items[0].SHA256 = "mutated"
	if !d.Contains("k") || d.Contains("mutated") {
		t.Fatal("Items must return a copy")
	}
}
