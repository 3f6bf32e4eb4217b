package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/views"
	"github.com/spf13/cobra"
)

var viewCollections = []string{config.CollectionPDFs, config.CollectionBlogPosts}

func viewsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "views",
		Short: "Read or bump view counters",
	}

	run := func(incr bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			collection, id := args[0], args[1]
			if !validCollection(collection) {
				return fmt.Errorf("unknown collection %q, use one of %v", collection, viewCollections)
			}

			cfg, _, err := setup(flags)
			if err != nil {
				return err
			}
			store, err := docstore.OpenSQLite(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf(config.ErrInitializeStoreFmt, err)
			}
			defer store.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			var wg sync.WaitGroup
			defer func() {
				cancel()
				wg.Wait()
			}()

			pdfCounter, postCounter, err := viewCounters(ctx, cfg, store, &wg)
			if err != nil {
				return err
			}
			counter := pdfCounter
			if collection == config.CollectionBlogPosts {
				counter = postCounter
			}
			return showViews(ctx, counter, collection, id, incr, cmd.OutOrStdout())
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <collection> <id>",
			Short: "Print the view count of a document",
			Args:  cobra.ExactArgs(2),
			RunE:  run(false),
		},
		&cobra.Command{
			Use:   "incr <collection> <id>",
			Short: "Count one view of a document",
			Args:  cobra.ExactArgs(2),
			RunE:  run(true),
		},
	)
	return cmd
}

func validCollection(c string) bool {
	for _, v := range viewCollections {
		if v == c {
			return true
		}
	}
	return false
}

func showViews(ctx context.Context, counter views.Counter, collection, id string, incr bool, out io.Writer) error {
	if incr {
		if err := counter.IncrementView(ctx, id); err != nil {
			return err
		}
	}
	n, err := counter.Views(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, labelStyle.Render("collection")+collection)
	fmt.Fprintln(out, labelStyle.Render("document")+id)
	fmt.Fprintln(out, labelStyle.Render("views")+outputStyle.Render(strconv.FormatInt(n, 10)))
	return nil
}
