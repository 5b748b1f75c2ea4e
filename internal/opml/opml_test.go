package opml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
)

const nested = `<?xml version="1.0"?>
<opml version="2.0">
  <head><title>subs</title></head>
  <body>
    <outline text="Loose" xmlUrl="http://loose.example/rss"/>
    <outline text="Tech">
      <outline text="Go" title="Go Blog" xmlUrl="http://go.example/feed"/>
      <outline text="Google">
        <outline text="AI" xmlUrl="http://ai.example/feed"/>
      </outline>
      <outline text="Rust" xmlUrl="http://rust.example/feed"/>
    </outline>
    <outline text="Empty folder"/>
  </body>
</opml>`

func TestParse_Nested(t *testing.T) {
	subs, err := Parse(strings.NewReader(nested))
	require.NoError(t, err)
	require.Len(t, subs, 4)

	assert.Equal(t, model.Subscription{Title: "Loose", URL: "http://loose.example/rss", Own: true}, subs[0])
	assert.Equal(t, "Go Blog", subs[1].Title)
	assert.Equal(t, "Tech", subs[1].Category)
	assert.Equal(t, "Tech/Google", subs[2].Category)
	assert.Equal(t, "AI", subs[2].Title)
	assert.Equal(t, "Tech", subs[3].Category, "sibling path not clobbered by nested folder")
	for _, sub := range subs {
		assert.True(t, sub.Own)
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse(strings.NewReader("<opml"))
	assert.Error(t, err)
}

func TestExport_RoundTrip(t *testing.T) {
	subs := []model.Subscription{
		{Title: "Rust", URL: "http://rust.example/feed", Category: "Tech", Own: true},
		{Title: "AI", URL: "http://ai.example/feed", Category: "Tech/Google", Own: true},
		{Title: "Loose", URL: "http://loose.example/rss", Own: true},
		{Title: "Go Blog", URL: "http://go.example/feed", Category: "Tech", Own: true},
		{Title: "mirror", URL: "ws://peer/replicate", Own: false},
		{Title: "manual", Own: true},
	}
	data, err := Export("hyperfeed", subs)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("<?xml")))

	entries, err := Parse(bytes.NewReader(data))
	require.NoError(t, err)
	got := map[string]string{}
	for _, e := range entries {
		got[e.URL] = e.Category
	}
	assert.Equal(t, map[string]string{
		"http://rust.example/feed": "Tech",
		"http://ai.example/feed":   "Tech/Google",
		"http://loose.example/rss": "",
		"http://go.example/feed":   "Tech",
	}, got)

	// folders first, feeds sorted by title
	assert.Equal(t, "http://ai.example/feed", entries[0].URL)
	assert.Equal(t, "http://go.example/feed", entries[1].URL)
	assert.Equal(t, "http://rust.example/feed", entries[2].URL)
	assert.Equal(t, "http://loose.example/rss", entries[3].URL)
}
