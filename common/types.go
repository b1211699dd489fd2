package common

import (
	"strings"
	"time"
)

// shortKeyLen is the number of key characters shown in log lines.
const shortKeyLen = 7

// Item is one unit of work identified by a stable content hash.
// The key is opaque and may have any length.
type Item struct {
	SHA256   string        `json:"sha256"`
	Duration time.Duration `json:"duration"`
}

// Short returns a human-readable prefix of the item key.
func (i Item) Short() string {
	return ShortKey(i.SHA256)
}

// ShortKey returns the first few characters of key, or key itself when it
// is shorter than that.
func ShortKey(key string) string {
	if len(key) <= shortKeyLen {
		return key
	}
	return key[:shortKeyLen]
}

// FileCompleted is the payload of a completion notification.
type FileCompleted struct {
	SHA256 string `json:"sha256"`
}

// DownloadTaskID returns the worker ID for the given item key.
func DownloadTaskID(key string) string {
	return DownloadTaskPrefix + key
}

// DownloadKey inverts DownloadTaskID. It reports false for IDs that do not
// follow the download worker naming rule, or that carry an empty key.
func DownloadKey(id string) (string, bool) {
	if !strings.HasPrefix(id, DownloadTaskPrefix) {
		return "", false
	}
	key := strings.TrimPrefix(id, DownloadTaskPrefix)
	if key == "" {
		return "", false
	}
	return key, true
}
