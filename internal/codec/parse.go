package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
)

// Parse reads a whole feed document. Malformed input yields an error and no
// partial document.
func (c *Codec) Parse(ctx context.Context, r io.Reader) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// gofeed.Parser is not safe for concurrent use.
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	doc := &Document{Meta: metaFrom(parsed), Items: make([]model.Item, 0, len(parsed.Items))}
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		doc.Items = append(doc.Items, itemFrom(it))
	}
	return doc, nil
}

func metaFrom(f *gofeed.Feed) model.Meta {
	m := model.Meta{
		Title:       f.Title,
		Description: f.Description,
		Link:        f.Link,
		XMLURL:      f.FeedLink,
		Language:    f.Language,
		Copyright:   f.Copyright,
		Author:      personName(f.Author),
		Generator:   f.Generator,
		Categories:  f.Categories,
	}
	if f.Image != nil {
		m.ImageURL = f.Image.URL
	}
	switch {
	case f.UpdatedParsed != nil:
		m.Updated = utcPtr(*f.UpdatedParsed)
	case f.PublishedParsed != nil:
		m.Updated = utcPtr(*f.PublishedParsed)
	}
	return m
}

func itemFrom(it *gofeed.Item) model.Item {
	item := model.Item{
		GUID:        strings.TrimSpace(it.GUID),
		Title:       it.Title,
		Link:        it.Link,
		Description: it.Description,
		Content:     it.Content,
		Author:      personName(it.Author),
		Categories:  it.Categories,
	}
	// Without a guid the link is the stable identity across syncs.
	if item.GUID == "" {
		item.GUID = strings.TrimSpace(it.Link)
	}
	switch {
	case it.PublishedParsed != nil:
		item.Date = *it.PublishedParsed
	case it.UpdatedParsed != nil:
		item.Date = *it.UpdatedParsed
	}
	if len(it.Custom) > 0 {
		item.Custom = make(map[string]string, len(it.Custom))
		for k, v := range it.Custom {
			item.Custom[k] = v
		}
	}
	return item
}

func personName(p *gofeed.Person) string {
	if p == nil {
		return ""
	}
	if p.Name != "" {
		return p.Name
	}
	return p.Email
}

func utcPtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
