package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/debemdeboas/the-library/internal/repository"
	"github.com/debemdeboas/the-library/internal/util"
	"github.com/spf13/cobra"
)

// postCreator is the part of the blog repository the importer writes through.
type postCreator interface {
	Create(ctx context.Context, author *model.Identity, title string, md []byte, tags []string) (*model.BlogPost, error)
}

func importCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import content into the document store",
	}

	var path, ownerID string
	posts := &cobra.Command{
		Use:   "posts",
		Short: "Import every .md file of a directory as a blog post",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(flags)
			if err != nil {
				return err
			}
			store, err := docstore.OpenSQLite(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf(config.ErrInitializeStoreFmt, err)
			}
			defer store.Close()

			owner := &model.Identity{UID: model.UserID(ownerID)}
			imported, err := importPosts(cmd.Context(), repository.NewBlogRepository(store), owner, path, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("Imported %d posts", imported)))
			return nil
		},
	}
	posts.Flags().StringVar(&path, "path", "", "Path to the directory containing .md files")
	posts.Flags().StringVar(&ownerID, "owner-id", "", "Owner user ID for the posts")
	posts.MarkFlagRequired("path")
	posts.MarkFlagRequired("owner-id")

	cmd.AddCommand(posts)
	return cmd
}

// importPosts creates one post per markdown file in dir. A file that fails is
// reported and skipped.
func importPosts(ctx context.Context, repo postCreator, owner *model.Identity, dir string, out io.Writer) (int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read directory %s: %w", dir, err)
	}

	imported := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".md") {
			continue
		}
		post, err := importPost(ctx, repo, owner, filepath.Join(dir, file.Name()))
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("✗ %s: %v", file.Name(), err)))
			continue
		}
		imported++
		fmt.Fprintln(out, outputStyle.Render(fmt.Sprintf("✓ %s → %s", file.Name(), post.ID)))
	}
	return imported, nil
}

func importPost(ctx context.Context, repo postCreator, owner *model.Identity, path string) (*model.BlogPost, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Use the front matter title if there is one, otherwise the file name.
	title := strings.TrimSuffix(filepath.Base(path), ".md")
	fm, err := util.ParseFrontMatter(content)
	switch {
	case err == nil:
		if fm.Title != "" {
			title = fm.Title
		}
	case !errors.Is(err, util.ErrNoFrontMatter):
		return nil, err
	}

	return repo.Create(ctx, owner, title, content, nil)
}
