// Package model defines shared data structures.
package model

import "time"

// Item represents a single entry of a syndication feed.
type Item struct {
	GUID        string            `json:"guid"`
	Date        time.Time         `json:"date"`
	Title       string            `json:"title,omitempty"`
	Link        string            `json:"link,omitempty"`
	URL         string            `json:"url,omitempty"`
	Description string            `json:"description,omitempty"`
	Content     string            `json:"content,omitempty"`
	Author      string            `json:"author,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
	Custom      map[string]string `json:"custom,omitempty"` // extension fields passed through as-is
}

// Target returns the address a scrap fetch should use: URL if set, else Link.
func (i Item) Target() string {
	if i.URL != "" {
		return i.URL
	}
	return i.Link
}

// Meta holds the feed-level descriptive fields. It is replaced wholesale on update.
type Meta struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Link        string     `json:"link,omitempty"`   // site URL
	XMLURL      string     `json:"xmlUrl,omitempty"` // feed URL
	Language    string     `json:"language,omitempty"`
	Copyright   string     `json:"copyright,omitempty"`
	Author      string     `json:"author,omitempty"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	Generator   string     `json:"generator,omitempty"`
	Categories  []string   `json:"categories,omitempty"`
	Updated     *time.Time `json:"updated,omitempty"`
}

// Subscription is a catalog entry: a feed hosted or mirrored by this process.
type Subscription struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	URL        string    `json:"url,omitempty"`      // source document, or the replication endpoint of a mirror
	Category   string    `json:"category,omitempty"` // "/"-joined folder path from OPML
	ArchiveKey string    `json:"key"`                // hex
	Own        bool      `json:"own"`
	LastSynced time.Time `json:"last_synced,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Settings key constants.
const (
	SettingPollingInterval = "polling_interval_minutes"
)
