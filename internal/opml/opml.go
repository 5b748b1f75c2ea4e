// Package opml handles importing and exporting OPML files.
package opml

import (
	"cmp"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (folder or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Parse reads an OPML document and returns one owned subscription per feed
// outline, in document order. Nested folders become the "/"-joined category.
func Parse(r io.Reader) ([]model.Subscription, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var subs []model.Subscription
	collect(doc.Body.Outlines, "", &subs)
	return subs, nil
}

// collect appends the feeds under outlines. Outlines with neither a feed URL
// nor children are empty folders and are dropped.
func collect(outlines []Outline, category string, subs *[]model.Subscription) {
	for _, o := range outlines {
		switch {
		case o.XMLURL != "":
			*subs = append(*subs, model.Subscription{
				Title:    cmp.Or(o.Title, o.Text),
				URL:      o.XMLURL,
				Category: category,
				Own:      true,
			})
		case len(o.Outlines) > 0:
			collect(o.Outlines, subCategory(category, cmp.Or(o.Text, o.Title)), subs)
		}
	}
}

func subCategory(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// folder is an outline under construction.
type folder struct {
	name    string
	feeds   []Outline
	folders map[string]*folder
}

func (f *folder) child(name string) *folder {
	if f.folders == nil {
		f.folders = make(map[string]*folder)
	}
	c, ok := f.folders[name]
	if !ok {
		c = &folder{name: name}
		f.folders[name] = c
	}
	return c
}

// outlines returns sub-folders first, then feeds, each sorted by name.
func (f *folder) outlines() []Outline {
	names := make([]string, 0, len(f.folders))
	for n := range f.folders {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Outline, 0, len(names)+len(f.feeds))
	for _, n := range names {
		c := f.folders[n]
		out = append(out, Outline{Text: c.name, Title: c.name, Outlines: c.outlines()})
	}
	feeds := append([]Outline(nil), f.feeds...)
	sort.SliceStable(feeds, func(i, j int) bool { return feeds[i].Title < feeds[j].Title })
	return append(out, feeds...)
}

// Export generates an OPML document from the subscriptions that sync from a
// source URL. Categories become nested folders.
func Export(title string, subs []model.Subscription) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().UTC().Format(time.RFC1123Z),
		},
	}

	root := &folder{}
	for _, s := range subs {
		if !s.Own || s.URL == "" {
			continue
		}
		f := root
		for _, part := range strings.Split(s.Category, "/") {
			if part = strings.TrimSpace(part); part != "" {
				f = f.child(part)
			}
		}
		f.feeds = append(f.feeds, Outline{
			Text:   s.Title,
			Title:  s.Title,
			Type:   "rss",
			XMLURL: s.URL,
		})
	}
	doc.Body.Outlines = root.outlines()

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode opml: %w", err)
	}
	return append([]byte(xml.Header), output...), nil
}
