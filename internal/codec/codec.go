// Package codec converts between textual feed documents and model values.
// Parsing accepts RSS, Atom and JSON Feed via gofeed; rendering always
// produces RSS 2.0.
package codec

import "github.com/KRYPTOHAUS/hyperfeed/internal/model"

// Document is a parsed feed: metadata plus items in document order.
type Document struct {
	Meta  model.Meta
	Items []model.Item
}

// Codec parses and renders feed documents. The zero value is ready to use.
type Codec struct{}

func New() *Codec {
	return &Codec{}
}
