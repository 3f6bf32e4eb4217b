package server

import (
	"errors"
	"net/http"

	"github.com/debemdeboas/the-library/internal/auth"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/debemdeboas/the-library/internal/repository"
	"github.com/debemdeboas/the-library/internal/validate"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

type likeView struct {
	PostID model.PostID
	Liked  bool
	Count  int
}

type commentsView struct {
	Items  []*model.Comment
	Viewer model.UserID
	Admin  bool
}

// repoError maps repository errors to responses. It reports whether err was handled.
func (s *Server) repoError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, repository.ErrNotFound):
		http.NotFound(w, r)
	case errors.Is(err, repository.ErrForbidden):
		toast(w, "error", config.ErrForbiddenAction)
		http.Error(w, config.HTTPErrForbidden, http.StatusForbidden)
	default:
		s.serverError(w, r, err)
	}
	return true
}

func (s *Server) serveBlog(w http.ResponseWriter, r *http.Request) {
	opts := repository.BlogListOptions{
		Sort:  r.URL.Query().Get("sort"),
		Tag:   r.URL.Query().Get("tag"),
		Limit: s.cfg.Content.PostsPerPage,
	}
	if opts.Sort == "" {
		opts.Sort = repository.SortNewest
	}

	data := struct {
		*model.PageData
		Posts []*model.BlogPost
		Tags  []string
		Sort  string
		Tag   string
	}{
		PageData: s.pageData(r, "Blog"),
		Posts:    s.Posts.List(opts),
		Tags:     s.Posts.Tags(),
		Sort:     opts.Sort,
		Tag:      opts.Tag,
	}
	s.page(w, r, http.StatusOK, config.TemplateBlog, data)
}

func (s *Server) comments(r *http.Request, postID model.PostID) (commentsView, error) {
	items, err := s.Posts.ListComments(r.Context(), postID)
	if err != nil {
		return commentsView{}, err
	}
	v := commentsView{Items: items}
	if who := auth.IdentityFrom(r.Context()); who.SignedIn() {
		v.Viewer, v.Admin = who.UID, who.Admin
	}
	return v, nil
}

func (s *Server) servePost(w http.ResponseWriter, r *http.Request) {
	cached, err := s.Posts.Get(r.Context(), model.PostID(chi.URLParam(r, "id")))
	if s.repoError(w, r, err) {
		return
	}

	// Cached posts are shared.
	post := *cached
	rendered := s.Renderer.Markdown(post.Markdown, post.ContentHash)
	post.Content = rendered.HTML

	comments, err := s.comments(r, post.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	who := auth.IdentityFrom(r.Context())
	pd := s.pageData(r, post.GetTitle())
	pd.SyntaxCSS = s.Renderer.SyntaxCSS()

	data := struct {
		*model.PageData
		Post     *model.BlogPost
		Like     likeView
		Comments commentsView
		CanEdit  bool
	}{
		PageData: pd,
		Post:     &post,
		Like:     likeView{PostID: post.ID, Liked: post.LikedBy(comments.Viewer), Count: post.LikeCount()},
		Comments: comments,
		CanEdit:  who.SignedIn() && (who.UID == post.AuthorID || who.Admin),
	}
	s.page(w, r, http.StatusOK, config.TemplatePost, data)
}

func (s *Server) servePostViews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Posts.Get(r.Context(), model.PostID(id)); s.repoError(w, r, err) {
		return
	}
	if err := s.PostViews.IncrementView(r.Context(), id); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("post_id", id).Msg("Failed to count view")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serveLike(w http.ResponseWriter, r *http.Request) {
	id := model.PostID(chi.URLParam(r, "id"))
	uid, _ := auth.UserIDFrom(r.Context())

	liked, count, err := s.Posts.ToggleLike(r.Context(), id, uid)
	if s.repoError(w, r, err) {
		return
	}
	s.partial(w, r, http.StatusOK, "like-button", likeView{PostID: id, Liked: liked, Count: count})
}

func (s *Server) serveAddComment(w http.ResponseWriter, r *http.Request) {
	id := model.PostID(chi.URLParam(r, "id"))
	values := map[string]string{"text": r.FormValue("text")}
	if err := validate.Comment.Validate(values); err != nil {
		s.invalid(w, r, err.(validate.Errors))
		return
	}

	_, err := s.Posts.AddComment(r.Context(), id, auth.IdentityFrom(r.Context()), values["text"])
	if s.repoError(w, r, err) {
		return
	}
	s.renderComments(w, r, id)
}

func (s *Server) serveDeleteComment(w http.ResponseWriter, r *http.Request) {
	id := model.PostID(chi.URLParam(r, "id"))
	cid := model.CommentID(chi.URLParam(r, "cid"))

	err := s.Posts.DeleteComment(r.Context(), id, cid, auth.IdentityFrom(r.Context()))
	if s.repoError(w, r, err) {
		return
	}
	s.renderComments(w, r, id)
}

func (s *Server) renderComments(w http.ResponseWriter, r *http.Request, id model.PostID) {
	comments, err := s.comments(r, id)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.partial(w, r, http.StatusOK, "comments", comments)
}

func (s *Server) servePostDelete(w http.ResponseWriter, r *http.Request) {
	id := model.PostID(chi.URLParam(r, "id"))
	if s.repoError(w, r, s.Posts.Delete(r.Context(), id, auth.IdentityFrom(r.Context()))) {
		return
	}
	hlog.FromRequest(r).Info().Str("post_id", string(id)).Msg("Post deleted")
	redirect(w, r, config.BlogUrlPath)
}
