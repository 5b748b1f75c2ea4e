package codec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
)

const (
	atomNS    = "http://www.w3.org/2005/Atom"
	contentNS = "http://purl.org/rss/1.0/modules/content/"
)

type rssDocument struct {
	XMLName   xml.Name   `xml:"rss"`
	Version   string     `xml:"version,attr"`
	AtomNS    string     `xml:"xmlns:atom,attr"`
	ContentNS string     `xml:"xmlns:content,attr"`
	Channel   rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	Self          *atomLink `xml:"atom:link,omitempty"`
	Language      string    `xml:"language,omitempty"`
	Copyright     string    `xml:"copyright,omitempty"`
	Generator     string    `xml:"generator,omitempty"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Categories    []string  `xml:"category"`
	Image         *rssImage `xml:"image,omitempty"`
	Items         []rssItem `xml:"item"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssImage struct {
	URL   string `xml:"url"`
	Title string `xml:"title"`
	Link  string `xml:"link"`
}

type rssItem struct {
	Title       string    `xml:"title,omitempty"`
	Link        string    `xml:"link,omitempty"`
	Description string    `xml:"description,omitempty"`
	Content     *rssCDATA `xml:"content:encoded,omitempty"`
	Author      string    `xml:"author,omitempty"`
	Categories  []string  `xml:"category"`
	GUID        rssGUID   `xml:"guid"`
	PubDate     string    `xml:"pubDate,omitempty"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssCDATA struct {
	Value string `xml:",cdata"`
}

// Render produces an RSS 2.0 document. meta.XMLURL becomes the atom self
// link and meta.Link the channel link; items keep the given order.
func (c *Codec) Render(meta model.Meta, items []model.Item) ([]byte, error) {
	ch := rssChannel{
		Title:       meta.Title,
		Link:        meta.Link,
		Description: meta.Description,
		Language:    meta.Language,
		Copyright:   meta.Copyright,
		Generator:   meta.Generator,
		Categories:  meta.Categories,
		Items:       make([]rssItem, 0, len(items)),
	}
	if meta.XMLURL != "" {
		ch.Self = &atomLink{Href: meta.XMLURL, Rel: "self", Type: "application/rss+xml"}
	}
	if meta.Updated != nil {
		ch.LastBuildDate = rssDate(*meta.Updated)
	}
	if meta.ImageURL != "" {
		ch.Image = &rssImage{URL: meta.ImageURL, Title: meta.Title, Link: meta.Link}
	}
	for _, it := range items {
		ch.Items = append(ch.Items, renderItem(it))
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	doc := rssDocument{Version: "2.0", AtomNS: atomNS, ContentNS: contentNS, Channel: ch}
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("render rss: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func renderItem(it model.Item) rssItem {
	out := rssItem{
		Title:       it.Title,
		Link:        it.Link,
		Description: it.Description,
		Author:      it.Author,
		Categories:  it.Categories,
		GUID:        rssGUID{IsPermaLink: "false", Value: it.GUID},
	}
	if out.Link == "" {
		out.Link = it.URL
	}
	if it.Content != "" {
		out.Content = &rssCDATA{Value: it.Content}
	}
	if !it.Date.IsZero() {
		out.PubDate = rssDate(it.Date)
	}
	return out
}

func rssDate(t time.Time) string {
	return t.UTC().Format(time.RFC1123Z)
}
