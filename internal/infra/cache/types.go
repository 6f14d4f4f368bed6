package cache

import "time"

// Stats provides statistics about the cache database.
type Stats struct {
	Path           string    `json:"path"`
	NamespaceCount int       `json:"namespaceCount"`
	TotalBytes     int64     `json:"totalBytes"`
	SchemaVersion  string    `json:"schemaVersion"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Namespaces used by the playback core.
const (
	// NamespacePreviewURLs holds the durable preview URL map.
	NamespacePreviewURLs = "preview_url_cache"
)
