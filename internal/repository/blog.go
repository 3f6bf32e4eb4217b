package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/debemdeboas/the-library/internal/cache"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/debemdeboas/the-library/internal/util"
	"github.com/debemdeboas/the-library/internal/util/compression"
)

const (
	SortNewest  = "newest"
	SortPopular = "popular"
	SortTitle   = "title"
	SortViews   = "views"
)

type BlogListOptions struct {
	Sort  string
	Tag   string
	Limit int
}

// postRecord is the stored form of a blog post. The markdown body is zstd
// compressed and base64 encoded.
type postRecord struct {
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	ContentHash string         `json:"contentHash"`
	Tags        []string       `json:"tags"`
	AuthorID    model.UserID   `json:"authorId"`
	AuthorName  string         `json:"authorName"`
	Views       int64          `json:"views"`
	Likes       []model.UserID `json:"likes"`
	Comments    int            `json:"commentCount"`
}

// BlogRepository serves posts from an in-memory cache kept current by the
// store's change feed. Returned posts are shared and must not be modified.
type BlogRepository struct {
	store docstore.Store

	postsCache       *cache.Cache[model.PostID, *model.BlogPost]
	postsCacheSorted []*model.BlogPost
	mu               sync.RWMutex

	reloadNotifier func(model.PostID)
}

func NewBlogRepository(store docstore.Store) *BlogRepository {
	return &BlogRepository{
		store:      store,
		postsCache: cache.NewCache[model.PostID, *model.BlogPost](),
	}
}

// SetReloadNotifier sets a function called when the content of a cached post changes.
func (r *BlogRepository) SetReloadNotifier(notifier func(model.PostID)) {
	r.reloadNotifier = notifier
}

// Init loads every post and follows the change feed until ctx is done.
func (r *BlogRepository) Init(ctx context.Context) error {
	changes := r.store.Subscribe(ctx, config.CollectionBlogPosts)

	if err := r.reload(ctx); err != nil {
		return err
	}
	repoLogger.Info().Int("posts", r.postsCache.Len()).Msg("Posts loaded")

	go r.follow(ctx, changes)
	return nil
}

// reload reads every post and drops cached posts that no longer exist.
func (r *BlogRepository) reload(ctx context.Context) error {
	docs, err := r.store.Query(ctx, docstore.Query{Collection: config.CollectionBlogPosts})
	if err != nil {
		return fmt.Errorf("load posts: %w", err)
	}

	seen := make(map[model.PostID]bool, len(docs))
	for _, doc := range docs {
		seen[model.PostID(doc.ID)] = true
		if err := r.apply(doc); err != nil {
			repoLogger.Error().Err(err).Str("post_id", doc.ID).Msg("Skipping unreadable post")
		}
	}
	for _, post := range r.postsCache.Values() {
		if !seen[post.ID] {
			r.remove(post.ID)
		}
	}
	return nil
}

func (r *BlogRepository) follow(ctx context.Context, changes <-chan docstore.Change) {
	for change := range changes {
		switch change.Kind {
		case docstore.ChangeResync:
			if err := r.reload(ctx); err != nil {
				repoLogger.Error().Err(err).Msg(config.ErrReloadingPosts)
			}
			continue
		case docstore.ChangeDeleted:
			r.remove(model.PostID(change.Document.ID))
			continue
		}
		if err := r.apply(change.Document); err != nil {
			repoLogger.Error().Err(err).Str("post_id", change.Document.ID).Msg(config.ErrReloadingPosts)
		}
	}
}

// DecodePost reads a stored blog post document.
func DecodePost(doc *docstore.Document) (*model.BlogPost, error) {
	var rec postRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, err
	}

	md, err := compression.Unpack(rec.Body)
	if err != nil {
		return nil, fmt.Errorf("error decompressing post %s: %w", doc.ID, err)
	}

	post := &model.BlogPost{
		ID:          model.PostID(doc.ID),
		Title:       rec.Title,
		Markdown:    md,
		Tags:        rec.Tags,
		ContentHash: rec.ContentHash,
		AuthorID:    rec.AuthorID,
		AuthorName:  rec.AuthorName,
		Views:       rec.Views,
		Likes:       rec.Likes,
		Comments:    rec.Comments,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if fm, err := util.ParseFrontMatter(md); err == nil {
		post.Info = fm
	}
	return post, nil
}

// apply stores doc in the cache unless a newer version is cached already.
func (r *BlogRepository) apply(doc *docstore.Document) error {
	post, err := DecodePost(doc)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old, existed := r.postsCache.Get(post.ID)
	if existed && old.UpdatedAt.After(post.UpdatedAt) {
		r.mu.Unlock()
		return nil
	}
	r.postsCache.Set(post.ID, post)
	r.resort()
	r.mu.Unlock()

	if existed && old.ContentHash != post.ContentHash {
		repoLogger.Info().Str("post_id", string(post.ID)).Str("title", post.Title).Msg("Post content changed, reloading")
		if r.reloadNotifier != nil {
			go r.reloadNotifier(post.ID)
		}
	}
	return nil
}

func (r *BlogRepository) remove(id model.PostID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postsCache.Delete(id)
	r.resort()
}

// resort rebuilds the newest-first list. Callers hold r.mu.
func (r *BlogRepository) resort() {
	posts := r.postsCache.Values()
	slices.SortStableFunc(posts, func(a, b *model.BlogPost) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	r.postsCacheSorted = posts
}

func (r *BlogRepository) List(opts BlogListOptions) []*model.BlogPost {
	r.mu.RLock()
	posts := make([]*model.BlogPost, 0, len(r.postsCacheSorted))
	for _, p := range r.postsCacheSorted {
		if opts.Tag == "" || p.HasTag(opts.Tag) {
			posts = append(posts, p)
		}
	}
	r.mu.RUnlock()

	switch opts.Sort {
	case SortPopular:
		slices.SortStableFunc(posts, func(a, b *model.BlogPost) int {
			if c := b.LikeCount() - a.LikeCount(); c != 0 {
				return c
			}
			return int(b.Views - a.Views)
		})
	case SortViews:
		slices.SortStableFunc(posts, func(a, b *model.BlogPost) int {
			return int(b.Views - a.Views)
		})
	case SortTitle:
		slices.SortStableFunc(posts, func(a, b *model.BlogPost) int {
			return strings.Compare(strings.ToLower(a.GetTitle()), strings.ToLower(b.GetTitle()))
		})
	}

	if opts.Limit > 0 && len(posts) > opts.Limit {
		posts = posts[:opts.Limit]
	}
	return posts
}

// Tags returns every tag in use, sorted.
func (r *BlogRepository) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tags []string
	for _, p := range r.postsCacheSorted {
		for _, t := range p.Tags {
			if !slices.Contains(tags, t) {
				tags = append(tags, t)
			}
		}
	}
	slices.Sort(tags)
	return tags
}

func (r *BlogRepository) Get(ctx context.Context, id model.PostID) (*model.BlogPost, error) {
	if post, ok := r.postsCache.Get(id); ok {
		return post, nil
	}

	doc, err := r.store.Get(ctx, config.CollectionBlogPosts, string(id))
	if err != nil {
		return nil, err
	}
	if err := r.apply(doc); err != nil {
		return nil, err
	}
	post, _ := r.postsCache.Get(id)
	return post, nil
}

func normalizeTags(tags []string, md []byte) []string {
	if len(tags) == 0 {
		if fm, err := util.ParseFrontMatter(md); err == nil {
			tags = fm.Tags()
		}
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func contentFields(title string, md []byte, tags []string) (map[string]any, error) {
	body, err := compression.Pack(md)
	if err != nil {
		return nil, fmt.Errorf("error compressing content: %w", err)
	}
	return map[string]any{
		"title":       strings.TrimSpace(title),
		"body":        body,
		"contentHash": util.ContentHash(md),
		"tags":        normalizeTags(tags, md),
	}, nil
}

func (r *BlogRepository) Create(ctx context.Context, author *model.Identity, title string, md []byte, tags []string) (*model.BlogPost, error) {
	if !author.SignedIn() {
		return nil, ErrForbidden
	}

	data, err := contentFields(title, md, tags)
	if err != nil {
		return nil, err
	}
	data["authorId"] = string(author.UID)
	data["authorName"] = author.DisplayName
	data["views"] = 0
	data["likes"] = []string{}
	data["commentCount"] = 0

	doc, err := r.store.Create(ctx, config.CollectionBlogPosts, data)
	if err != nil {
		return nil, fmt.Errorf("error saving post: %w", err)
	}
	if err := r.apply(doc); err != nil {
		return nil, err
	}

	repoLogger.Debug().Str("post_id", doc.ID).Msg("Post saved")
	return r.Get(ctx, model.PostID(doc.ID))
}

// Update replaces title, body and tags. Counters are left alone.
func (r *BlogRepository) Update(ctx context.Context, id model.PostID, who *model.Identity, title string, md []byte, tags []string) (*model.BlogPost, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canModify(who, current.AuthorID) {
		return nil, ErrForbidden
	}

	data, err := contentFields(title, md, tags)
	if err != nil {
		return nil, err
	}

	doc, err := r.store.Update(ctx, config.CollectionBlogPosts, string(id), data)
	if err != nil {
		return nil, fmt.Errorf("error saving post: %w", err)
	}
	if err := r.apply(doc); err != nil {
		return nil, err
	}

	repoLogger.Debug().Str("post_id", doc.ID).Msg("Post content set")
	return r.Get(ctx, id)
}

// Delete removes a post and its comments.
func (r *BlogRepository) Delete(ctx context.Context, id model.PostID, who *model.Identity) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !canModify(who, current.AuthorID) {
		return ErrForbidden
	}

	comments, err := r.store.Query(ctx, docstore.Query{Collection: config.CommentsCollection(string(id))})
	if err != nil {
		return err
	}
	for _, c := range comments {
		if err := r.store.Delete(ctx, c.Collection, c.ID); err != nil {
			return err
		}
	}

	if err := r.store.Delete(ctx, config.CollectionBlogPosts, string(id)); err != nil {
		return err
	}
	r.remove(id)
	return nil
}

// ToggleLike adds or removes uid from the likers of a post and reports the new state.
func (r *BlogRepository) ToggleLike(ctx context.Context, id model.PostID, uid model.UserID) (liked bool, count int, err error) {
	if uid == "" {
		return false, 0, ErrForbidden
	}

	doc, err := r.store.Mutate(ctx, config.CollectionBlogPosts, string(id), func(data map[string]any) (map[string]any, error) {
		raw, _ := data["likes"].([]any)
		likes := make([]any, 0, len(raw)+1)
		liked = true
		for _, v := range raw {
			if s, _ := v.(string); s == string(uid) {
				liked = false
				continue
			}
			likes = append(likes, v)
		}
		if liked {
			likes = append(likes, string(uid))
		}
		count = len(likes)
		data["likes"] = likes
		return data, nil
	})
	if err != nil {
		return false, 0, err
	}
	if err := r.apply(doc); err != nil {
		return false, 0, err
	}
	return liked, count, nil
}

func (r *BlogRepository) AddComment(ctx context.Context, postID model.PostID, who *model.Identity, text string) (*model.Comment, error) {
	if !who.SignedIn() {
		return nil, ErrForbidden
	}
	if _, err := r.Get(ctx, postID); err != nil {
		return nil, err
	}

	comment := &model.Comment{
		PostID:     postID,
		AuthorID:   who.UID,
		AuthorName: who.DisplayName,
		PhotoURL:   who.PhotoURL,
		Text:       strings.TrimSpace(text),
	}
	data, err := toData(comment)
	if err != nil {
		return nil, err
	}

	doc, err := r.store.Create(ctx, config.CommentsCollection(string(postID)), data)
	if err != nil {
		return nil, err
	}
	comment.ID = model.CommentID(doc.ID)
	comment.CreatedAt = doc.CreatedAt

	r.bumpComments(ctx, postID, 1)
	return comment, nil
}

// DeleteComment is allowed to the comment author and admins.
func (r *BlogRepository) DeleteComment(ctx context.Context, postID model.PostID, commentID model.CommentID, who *model.Identity) error {
	coll := config.CommentsCollection(string(postID))
	doc, err := r.store.Get(ctx, coll, string(commentID))
	if err != nil {
		return err
	}

	var comment model.Comment
	if err := doc.DataTo(&comment); err != nil {
		return err
	}
	if !canModify(who, comment.AuthorID) {
		return ErrForbidden
	}

	if err := r.store.Delete(ctx, coll, string(commentID)); err != nil {
		return err
	}
	r.bumpComments(ctx, postID, -1)
	return nil
}

func (r *BlogRepository) bumpComments(ctx context.Context, postID model.PostID, delta int64) {
	doc, err := r.store.Increment(ctx, config.CollectionBlogPosts, string(postID), "commentCount", delta)
	if err != nil {
		repoLogger.Warn().Err(err).Str("post_id", string(postID)).Msg("Failed to update comment count")
		return
	}
	if err := r.apply(doc); err != nil {
		repoLogger.Warn().Err(err).Str("post_id", string(postID)).Msg("Failed to refresh post")
	}
}

// ListComments returns the comments of a post, oldest first.
func (r *BlogRepository) ListComments(ctx context.Context, postID model.PostID) ([]*model.Comment, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: config.CommentsCollection(string(postID)),
		OrderBy:    docstore.FieldCreatedAt,
	})
	if err != nil {
		return nil, err
	}

	comments := make([]*model.Comment, 0, len(docs))
	for _, doc := range docs {
		var c model.Comment
		if err := doc.DataTo(&c); err != nil {
			return nil, err
		}
		c.ID = model.CommentID(doc.ID)
		c.CreatedAt = doc.CreatedAt
		comments = append(comments, &c)
	}
	return comments, nil
}
