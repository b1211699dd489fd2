package common

import (
	"strings"
	"testing"
)

func TestDownloadKeyRoundTrip(t *testing.T) {
	keys := []string{
		strings.Repeat("0", 64),
		"abc",
		strings.Repeat("f", 300),
		"download-workflow-nested",
	}
	for _, key := range keys {
		id := DownloadTaskID(key)
		got, ok := DownloadKey(id)
		if !ok {
			t.Fatalf("DownloadKey(%q) reported not managed", id)
		}
		if got != key {
			t.Fatalf("DownloadKey(%q) = %q, want %q", id, got, key)
		}
	}
}

func TestDownloadKeyRejectsForeignIDs(t *testing.T) {
	tests := []string{
		"",
		"master-workflow",
		"cleanup-workflow",
		DownloadTaskPrefix,
		"upload-workflow-0000",
		"Download-workflow-0000",
	}
	for _, id := range tests {
		if key, ok := DownloadKey(id); ok {
			t.Errorf("DownloadKey(%q) = %q, true; want not managed", id, key)
		}
	}
}

func TestShortKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{strings.Repeat("1", 64), "1111111"},
		{"abc", "abc"},
		{"", ""},
		{"1234567", "1234567"},
	}
	for _, tt := range tests {
		if got := ShortKey(tt.key); got != tt.want {
			t.Errorf("ShortKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
	item := Item{SHA256: strings.Repeat("2", 64)}
	if item.Short() != "2222222" {
		t.Errorf("Item.Short() = %q", item.Short())
	}
}
