package master

import "testing"

func TestPendingSetRemove(t *testing.T) {
	p := newPendingSet([]string{"a", "b"})

	tests := []struct {
		key  string
		want RemoveResult
	}{
		{"a", Removed},
		{"a", NotPresent},
		{"zzz", NotPresent},
		{"b", Removed},
	}
	for _, tt := range tests {
		if got := p.remove(tt.key); got != tt.want {
			t.Fatalf("remove(%q) = %s, want %s", tt.key, got, tt.want)
		}
	}
	if !p.empty() {
		t.Fatalf("expected empty set, have %v", p.keys())
	}
}

func TestPendingSetKeysSorted(t *testing.T) {
	p := newPendingSet([]string{"c", "a", "b"})
	got := p.keys()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("keys = %v", got)
	}
}

func TestEarlyInbox(t *testing.T) {
	var b earlyInbox
	b.add("x")
	b.add("y")
	b.add("x")
	if b.len() != 3 {
		t.Fatalf("len = %d", b.len())
	}
	got := b.drain()
	if len(got) != 3 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("drain = %v", got)
	}
	if b.len() != 0 || len(b.drain()) != 0 {
		t.Fatal("drain should empty the inbox")
	}
}
