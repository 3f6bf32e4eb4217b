package repository

import (
	"context"
	"fmt"

	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/model"
)

// DraftRepository stores editor drafts. Drafts have no body length rule.
type DraftRepository struct {
	store docstore.Store
}

func NewDraftRepository(store docstore.Store) *DraftRepository {
	return &DraftRepository{store: store}
}

func decodeDraft(doc *docstore.Document) (*model.Draft, error) {
	var d model.Draft
	if err := doc.DataTo(&d); err != nil {
		return nil, err
	}
	d.ID, d.UpdatedAt = doc.ID, doc.UpdatedAt
	return &d, nil
}

func (r *DraftRepository) Create(ctx context.Context, d *model.Draft) (string, error) {
	data, err := toData(d)
	if err != nil {
		return "", err
	}
	doc, err := r.store.Create(ctx, config.CollectionDrafts, data)
	if err != nil {
		return "", fmt.Errorf("create draft: %w", err)
	}
	return doc.ID, nil
}

// Save writes title and body of a draft owned by who.
func (r *DraftRepository) Save(ctx context.Context, id string, who *model.Identity, title, body string) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !canModify(who, current.OwnerID) {
		return ErrForbidden
	}
	_, err = r.store.Update(ctx, config.CollectionDrafts, id, map[string]any{"title": title, "body": body})
	return err
}

// Finish marks a draft as published to postID.
func (r *DraftRepository) Finish(ctx context.Context, id string, postID model.PostID) error {
	_, err := r.store.Update(ctx, config.CollectionDrafts, id, map[string]any{"finished": true, "postId": string(postID)})
	return err
}

func (r *DraftRepository) Get(ctx context.Context, id string) (*model.Draft, error) {
	doc, err := r.store.Get(ctx, config.CollectionDrafts, id)
	if err != nil {
		return nil, err
	}
	return decodeDraft(doc)
}

// ListByOwner returns the unfinished drafts of uid, most recently edited first.
func (r *DraftRepository) ListByOwner(ctx context.Context, uid model.UserID) ([]*model.Draft, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: config.CollectionDrafts,
		Where: []docstore.Filter{
			{Field: "ownerId", Op: docstore.OpEqual, Value: string(uid)},
			{Field: "finished", Op: docstore.OpEqual, Value: false},
		},
		OrderBy: docstore.FieldUpdatedAt,
		Desc:    true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Draft, 0, len(docs))
	for _, doc := range docs {
		d, err := decodeDraft(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *DraftRepository) Delete(ctx context.Context, id string, who *model.Identity) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !canModify(who, current.OwnerID) {
		return ErrForbidden
	}
	return r.store.Delete(ctx, config.CollectionDrafts, id)
}
