package repository

import (
	"context"

	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/model"
)

// UserRepository mirrors identity provider users into the users collection.
type UserRepository struct {
	store docstore.Store
}

func NewUserRepository(store docstore.Store) *UserRepository {
	return &UserRepository{store: store}
}

// Upsert merges the non-empty profile fields of u into the stored user.
func (r *UserRepository) Upsert(ctx context.Context, u *model.User) error {
	data := map[string]any{"displayName": u.DisplayName}
	if u.Email != "" {
		data["email"] = u.Email
	}
	if u.PhotoURL != "" {
		data["photoURL"] = u.PhotoURL
	}
	_, err := r.store.Merge(ctx, config.CollectionUsers, string(u.ID), data)
	return err
}

func (r *UserRepository) Get(ctx context.Context, uid model.UserID) (*model.User, error) {
	doc, err := r.store.Get(ctx, config.CollectionUsers, string(uid))
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := doc.DataTo(&u); err != nil {
		return nil, err
	}
	u.ID, u.CreatedAt = uid, doc.CreatedAt
	return &u, nil
}

// SetPhoto stores a profile photo URL. An empty url removes it.
func (r *UserRepository) SetPhoto(ctx context.Context, uid model.UserID, url string) error {
	var v any = url
	if url == "" {
		v = nil
	}
	_, err := r.store.Merge(ctx, config.CollectionUsers, string(uid), map[string]any{"photoURL": v})
	return err
}

func (r *UserRepository) Delete(ctx context.Context, uid model.UserID) error {
	return r.store.Delete(ctx, config.CollectionUsers, string(uid))
}
