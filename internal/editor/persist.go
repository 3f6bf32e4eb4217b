package editor

import (
	"context"
	"strings"

	"github.com/debemdeboas/the-library/internal/autosave"
	"github.com/debemdeboas/the-library/internal/model"
)

// PostStore is satisfied by *repository.BlogRepository.
type PostStore interface {
	Get(ctx context.Context, id model.PostID) (*model.BlogPost, error)
	Create(ctx context.Context, author *model.Identity, title string, md []byte, tags []string) (*model.BlogPost, error)
	Update(ctx context.Context, id model.PostID, who *model.Identity, title string, md []byte, tags []string) (*model.BlogPost, error)
}

// DraftStore is satisfied by *repository.DraftRepository.
type DraftStore interface {
	Get(ctx context.Context, id string) (*model.Draft, error)
	Create(ctx context.Context, d *model.Draft) (string, error)
	Save(ctx context.Context, id string, who *model.Identity, title, body string) error
	Finish(ctx context.Context, id string, postID model.PostID) error
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

type postPersister struct {
	store PostStore
	owner *model.Identity
}

func (p *postPersister) Create(ctx context.Context, v autosave.Values) (string, error) {
	post, err := p.store.Create(ctx, p.owner, v["title"], []byte(v["body"]), splitTags(v["tags"]))
	if err != nil {
		return "", err
	}
	return string(post.ID), nil
}

func (p *postPersister) Update(ctx context.Context, key string, v autosave.Values) error {
	_, err := p.store.Update(ctx, model.PostID(key), p.owner, v["title"], []byte(v["body"]), splitTags(v["tags"]))
	return err
}

type draftPersister struct {
	store DraftStore
	owner *model.Identity
}

func (p *draftPersister) Create(ctx context.Context, v autosave.Values) (string, error) {
	return p.store.Create(ctx, &model.Draft{Title: v["title"], Body: v["body"], OwnerID: p.owner.UID})
}

func (p *draftPersister) Update(ctx context.Context, key string, v autosave.Values) error {
	return p.store.Save(ctx, key, p.owner, v["title"], v["body"])
}
