package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/feed"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
	"github.com/KRYPTOHAUS/hyperfeed/internal/replica"
	"github.com/KRYPTOHAUS/hyperfeed/internal/scrap"
)

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var title, category string
	var noSync bool

	cmd := &cobra.Command{
		Use:   "create [source-url]",
		Short: "Create an owned feed, optionally synced from a source document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			sub := model.Subscription{Title: title, Category: category}
			if len(args) == 1 {
				sub.URL = args[0]
			}
			_, sub, created, err := a.hub.Create(ctx, sub)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.ErrOrStderr(), "already hosted: %s\n", sub.URL)
			}
			if sub.URL != "" && !noSync {
				stats, err := a.syncer.SyncSubscription(ctx, sub)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "saved %d, duplicates %d\n", stats.Saved, stats.Duplicates)
			}
			fmt.Fprintln(cmd.OutOrStdout(), sub.ArchiveKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "catalog title")
	cmd.Flags().StringVar(&category, "category", "", "catalog folder path, \"/\"-separated")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "do not fetch the source now")
	return cmd
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var file, fromURL string

	cmd := &cobra.Command{
		Use:   "sync [key]",
		Short: "Sync one feed, or every catalogued feed when no key is given",
		Long: `Sync brings feeds up to date. Owned feeds are updated from their source
document; mirrors pull from their peer. --file and --url update an owned feed
from the given document instead of its source.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				if file != "" || fromURL != "" {
					return fmt.Errorf("--file and --url need a key")
				}
				results, err := a.syncer.SyncAll(ctx)
				if err != nil {
					return err
				}
				saved := 0
				for _, st := range results {
					saved += st.Saved
				}
				fmt.Fprintf(out, "synced %d feeds, saved %d\n", len(results), saved)
				return nil
			}

			f, err := a.feed(ctx, args[0])
			if err != nil {
				return err
			}
			var stats feed.Stats
			switch {
			case file != "":
				doc, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				stats, err = f.Update(ctx, bytes.NewReader(doc))
				if err != nil {
					return err
				}
			case fromURL != "":
				doc, err := scrap.NewHTTPFetcher(a.cfg.FetchTimeout, nil).Fetch(ctx, fromURL)
				if err != nil {
					return err
				}
				stats, err = f.Update(ctx, bytes.NewReader(doc))
				if err != nil {
					return err
				}
			default:
				sub, err := a.store.GetSubscriptionByKey(ctx, args[0])
				if err != nil {
					return err
				}
				stats, err = a.syncer.SyncSubscription(ctx, *sub)
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "saved %d, duplicates %d\n", stats.Saved, stats.Duplicates)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "update from a local feed document")
	cmd.Flags().StringVar(&fromURL, "url", "", "update from this URL instead of the source")
	return cmd
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	var item model.Item
	var date, scrapFile, target string
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "push <key>",
		Short: "Append a single item to an owned feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if fromStdin {
				if err := json.NewDecoder(cmd.InOrStdin()).Decode(&item); err != nil {
					return fmt.Errorf("decode item: %w", err)
				}
			}
			if date != "" {
				t, err := time.Parse(time.RFC3339, date)
				if err != nil {
					return fmt.Errorf("parse --date: %w", err)
				}
				item.Date = t
			}
			var side []byte
			if scrapFile != "" {
				b, err := os.ReadFile(scrapFile)
				if err != nil {
					return err
				}
				side = b
			}

			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			f, err := a.feed(ctx, args[0])
			if err != nil {
				return err
			}
			res, err := f.Save(ctx, item, feed.SaveOptions{Target: target, SideData: side})
			if err != nil {
				return err
			}
			if !res.Saved {
				fmt.Fprintf(cmd.ErrOrStderr(), "duplicate guid %s, nothing written\n", res.Item.GUID)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Item.GUID)
			return nil
		},
	}
	cmd.Flags().StringVar(&item.GUID, "guid", "", "item guid (generated when empty)")
	cmd.Flags().StringVar(&item.Title, "title", "", "item title")
	cmd.Flags().StringVar(&item.Link, "link", "", "item link")
	cmd.Flags().StringVar(&item.Description, "description", "", "item description")
	cmd.Flags().StringVar(&date, "date", "", "item date, RFC 3339 (now when empty)")
	cmd.Flags().StringVar(&scrapFile, "scrap-file", "", "store this file as the item's scrap record")
	cmd.Flags().StringVar(&target, "target", "", "record name override")
	cmd.Flags().BoolVar(&fromStdin, "json", false, "read the item as JSON from stdin")
	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var opts feed.ListOptions
	var live bool

	cmd := &cobra.Command{
		Use:   "list <key>",
		Short: "List stored records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			f, err := a.feed(ctx, args[0])
			if err != nil {
				return err
			}
			if live {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return listLive(ctx, f, opts, cmd.OutOrStdout())
			}

			entries, err := f.List(ctx, opts)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range entries {
				printEntry(tw, e)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&opts.WithScrapped, "scrapped", false, "include scrap records")
	cmd.Flags().BoolVar(&live, "live", false, "keep listing new records until interrupted")
	return cmd
}

func printEntry(w io.Writer, e archive.Entry) {
	fmt.Fprintf(w, "%s\t%s\t%d\n", e.Name, e.CTime.UTC().Format(time.RFC3339), e.Size)
}

func listLive(ctx context.Context, f *feed.Feed, opts feed.ListOptions, w io.Writer) error {
	stream, err := f.Live(ctx, opts)
	if err != nil {
		return err
	}
	defer stream.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-stream.C():
			if !ok {
				return stream.Err()
			}
			printEntry(w, e)
		}
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	var raw, showScrap bool

	cmd := &cobra.Command{
		Use:   "show <key> <guid>",
		Short: "Print one stored item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			f, err := a.feed(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case showScrap:
				data, err := f.LoadScrap(ctx, args[1])
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			case raw:
				data, err := f.LoadRaw(ctx, args[1])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}
			item, err := f.Load(ctx, args[1])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(item)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the stored bytes unchanged")
	cmd.Flags().BoolVar(&showScrap, "scrap", false, "print the scrap record instead")
	return cmd
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "render <key>",
		Short: "Render the newest items as RSS 2.0",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			f, err := a.feed(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := f.XML(ctx, count)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "items to render (render limit when 0)")
	return cmd
}

// NewMirrorCommand creates the mirror command.
func NewMirrorCommand(rootOpts *RootOptions) *cobra.Command {
	var from, title string
	var live bool

	cmd := &cobra.Command{
		Use:   "mirror <key>",
		Short: "Follow a remote feed and replicate it locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key, err := archive.ParseKey(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			f, sub, err := a.hub.Follow(ctx, key, from, title)
			if err != nil {
				return err
			}
			if live {
				var stop context.CancelFunc
				ctx, stop = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
			}
			n, err := replica.Pull(ctx, from, f.Archive(), replica.PullOptions{
				Live: live,
				OnSynced: func(n int) {
					fmt.Fprintf(cmd.ErrOrStderr(), "synced %d entries\n", n)
					if err := a.store.UpdateSubscriptionSynced(ctx, sub.ID, time.Now()); err != nil {
						a.log.Warn(ctx, "record sync time", "error", err)
					}
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replicated %d entries\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "replication endpoint, e.g. ws://host/feeds/<key>/replicate")
	cmd.Flags().StringVar(&title, "title", "", "catalog title")
	cmd.Flags().BoolVar(&live, "live", false, "keep replicating until interrupted")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}
