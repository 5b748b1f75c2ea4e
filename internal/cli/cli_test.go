package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/auth"
	"github.com/KRYPTOHAUS/hyperfeed/internal/codec"
	"github.com/KRYPTOHAUS/hyperfeed/internal/database"
	"github.com/KRYPTOHAUS/hyperfeed/internal/feed"
	"github.com/KRYPTOHAUS/hyperfeed/internal/hub"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
	"github.com/KRYPTOHAUS/hyperfeed/internal/rss"
	"github.com/KRYPTOHAUS/hyperfeed/internal/server"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "hyperfeed", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "create", "sync", "push", "list", "show", "render", "mirror", "import-opml", "export-opml", "token"}
	for _, name := range commands {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"config", "database", "archive", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
}

// cli runs the root command against one sqlite catalog with the sql archive.
type cli struct {
	t  *testing.T
	db string
}

func newCLI(t *testing.T) *cli {
	return &cli{t: t, db: filepath.Join(t.TempDir(), "cli.db")}
}

func (c *cli) run(stdin string, args ...string) (string, string, error) {
	c.t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--database", c.db, "--archive", "sql"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, errOut, err := c.run("", args...)
	require.NoError(c.t, err, errOut)
	return out
}

func TestCreatePushListShowRender(t *testing.T) {
	c := newCLI(t)
	key := strings.TrimSpace(c.mustRun("create", "--no-sync", "--title", "notes"))
	_, err := archive.ParseKey(key)
	require.NoError(t, err)

	out := c.mustRun("push", key, "--guid", "a", "--title", "first", "--date", "2024-01-01T00:00:00Z")
	assert.Equal(t, "a\n", out)

	_, errOut, err := c.run("", "push", key, "--guid", "a", "--title", "again")
	require.NoError(t, err)
	assert.Contains(t, errOut, "duplicate")

	out, _, err = c.run(`{"guid":"b","title":"second","date":"2024-01-02T00:00:00Z"}`, "push", key, "--json")
	require.NoError(t, err)
	assert.Equal(t, "b\n", out)

	listing := c.mustRun("list", key)
	assert.Contains(t, listing, "a  ")
	assert.Contains(t, listing, "b  ")
	assert.NotContains(t, listing, feed.MetaName)

	shown := c.mustRun("show", key, "a")
	assert.Contains(t, shown, `"title": "first"`)
	raw := c.mustRun("show", key, "a", "--raw")
	assert.Contains(t, raw, `"guid":"a"`)

	rendered := c.mustRun("render", key, "--count", "1")
	doc, err := codec.New().Parse(context.Background(), strings.NewReader(rendered))
	require.NoError(t, err)
	require.Len(t, doc.Items, 1)
	assert.Equal(t, "second", doc.Items[0].Title)
}

func TestSyncFromFile(t *testing.T) {
	c := newCLI(t)
	key := strings.TrimSpace(c.mustRun("create", "--no-sync"))

	items := []model.Item{
		{GUID: "x1", Title: "one", Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{GUID: "x2", Title: "two", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	doc, err := codec.New().Render(model.Meta{Title: "from file"}, items)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "feed.xml")
	require.NoError(t, os.WriteFile(path, doc, 0o644))

	assert.Equal(t, "saved 2, duplicates 0\n", c.mustRun("sync", key, "--file", path))
	assert.Equal(t, "saved 0, duplicates 2\n", c.mustRun("sync", key, "--file", path))

	_, _, err = c.run("", "sync", "--file", path)
	assert.Error(t, err)
}

func TestUnknownKey(t *testing.T) {
	c := newCLI(t)
	key, err := archive.NewKey()
	require.NoError(t, err)
	_, _, err = c.run("", "list", key.String())
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestOPMLRoundTrip(t *testing.T) {
	c := newCLI(t)
	src := filepath.Join(t.TempDir(), "subs.opml")
	require.NoError(t, os.WriteFile(src, []byte(`<opml version="2.0"><body>
<outline text="News"><outline text="A" xmlUrl="http://a.example/rss"/></outline>
<outline text="B" xmlUrl="http://b.example/rss"/>
</body></opml>`), 0o644))

	assert.Equal(t, "imported 2 of 2\n", c.mustRun("import-opml", src))
	assert.Equal(t, "imported 0 of 2\n", c.mustRun("import-opml", src))

	exported := c.mustRun("export-opml")
	assert.Contains(t, exported, `xmlUrl="http://a.example/rss"`)
	assert.Contains(t, exported, `text="News"`)
}

func TestToken(t *testing.T) {
	t.Setenv("HYPERFEED_JWT_SECRET", "cli-secret")
	c := newCLI(t)
	out := c.mustRun("token", "--subject", "ops", "--feed", "abc")
	claims, err := auth.ParseToken(strings.TrimSpace(out), []byte("cli-secret"))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, []string{"abc"}, claims.Feeds)
}

func TestToken_NoSecret(t *testing.T) {
	t.Setenv("HYPERFEED_JWT_SECRET", "")
	c := newCLI(t)
	_, _, err := c.run("", "token")
	assert.ErrorIs(t, err, auth.ErrNoSecret)
}

func TestMirror(t *testing.T) {
	ctx := context.Background()
	originDB, err := database.New(ctx, filepath.Join(t.TempDir(), "origin.db"))
	require.NoError(t, err)
	defer originDB.Close()
	h := hub.New(originDB, archive.NewMemoryDrive(), feed.Options{}, nil)
	defer h.Close()
	f, sub, _, err := h.Create(ctx, model.Subscription{Title: "origin"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := f.Push(ctx, model.Item{GUID: fmt.Sprintf("m%d", i), Title: "t"})
		require.NoError(t, err)
	}
	srv := httptest.NewServer(server.New(h, rss.NewSyncer(h, time.Second, nil, nil), server.Options{}).Handler())
	defer srv.Close()

	c := newCLI(t)
	from := "ws" + strings.TrimPrefix(srv.URL, "http") + "/feeds/" + sub.ArchiveKey + "/replicate"
	assert.Equal(t, "replicated 3 entries\n", c.mustRun("mirror", sub.ArchiveKey, "--from", from))

	listing := c.mustRun("list", sub.ArchiveKey)
	assert.Equal(t, 3, strings.Count(listing, "\n"))

	_, _, err = c.run("", "push", sub.ArchiveKey, "--guid", "nope")
	assert.ErrorIs(t, err, feed.ErrPermission)
}
