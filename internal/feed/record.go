package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
)

// itemSchema describes a stored item record. Dates are written as epoch
// milliseconds; string dates from older writers are accepted on read.
const itemSchema = `{
	"type": "object",
	"required": ["guid"],
	"properties": {
		"guid": {"type": "string", "minLength": 1},
		"date": {"type": ["number", "string"]},
		"title": {"type": "string"},
		"link": {"type": "string"},
		"url": {"type": "string"},
		"description": {"type": "string"},
		"content": {"type": "string"},
		"author": {"type": "string"},
		"categories": {"type": "array", "items": {"type": "string"}},
		"custom": {"type": "object", "additionalProperties": {"type": "string"}}
	}
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func recordSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(itemSchema))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("item.json", doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("item.json")
	})
	return schema, schemaErr
}

// storedItem shadows Item.Date so the record carries epoch milliseconds.
type storedItem struct {
	model.Item
	Date epochMillis `json:"date"`
}

type epochMillis time.Time

func (d epochMillis) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(time.Time(d).UnixMilli(), 10)), nil
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC1123Z, time.RFC1123, "2006-01-02"}

func (d *epochMillis) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*d = epochMillis{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				*d = epochMillis(t)
				return nil
			}
		}
		return fmt.Errorf("unrecognized date %q", s)
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	*d = epochMillis(time.UnixMilli(int64(ms)))
	return nil
}

func encodeRecord(it model.Item) ([]byte, error) {
	return json.Marshal(storedItem{Item: it, Date: epochMillis(it.Date)})
}

func decodeRecord(name string, raw []byte) (model.Item, error) {
	sch, err := recordSchema()
	if err != nil {
		return model.Item{}, fmt.Errorf("compile record schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return model.Item{}, &DeserializationError{Name: name, Err: err}
	}
	if err := sch.Validate(inst); err != nil {
		return model.Item{}, &DeserializationError{Name: name, Err: err}
	}
	var rec storedItem
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.Item{}, &DeserializationError{Name: name, Err: err}
	}
	it := rec.Item
	it.Date = time.Time(rec.Date)
	return it, nil
}
