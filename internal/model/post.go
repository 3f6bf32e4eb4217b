// Package model defines the library's documents and page data.
package model

import (
	"html/template"
	"slices"
	"strings"
	"time"

	"github.com/debemdeboas/the-library/internal/util"
)

type (
	PostID    string
	PDFID     string
	UserID    string
	CommentID string
)

type BlogPost struct {
	ID PostID `json:"-"`

	Title    string   `json:"title"`
	Markdown []byte   `json:"-"`
	Tags     []string `json:"tags,omitempty"`

	// Rendered HTML, filled by the renderer.
	Content template.HTML `json:"-"`
	// Hash of Markdown, used for cache busting.
	ContentHash string `json:"contentHash"`

	AuthorID   UserID   `json:"authorId"`
	AuthorName string   `json:"authorName"`
	Views      int64    `json:"views"`
	Likes      []UserID `json:"likes,omitempty"`
	Comments   int      `json:"commentCount"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`

	// Optional mmark front matter.
	Info *util.FrontMatter `json:"-"`
}

func (p *BlogPost) GetTitle() string {
	if p.Info != nil && p.Info.Title != "" {
		return p.Info.Title
	}
	return p.Title
}

func (p *BlogPost) LikeCount() int {
	return len(p.Likes)
}

func (p *BlogPost) LikedBy(uid UserID) bool {
	return uid != "" && slices.Contains(p.Likes, uid)
}

func (p *BlogPost) HasTag(tag string) bool {
	return slices.Contains(p.Tags, strings.ToLower(tag))
}

// Excerpt is the start of the markdown without front matter.
func (p *BlogPost) Excerpt(n int) string {
	return util.Excerpt(string(util.StripFrontMatter(p.Markdown)), n)
}

// Draft is a markdown draft saved by the editor. Its body has no length rule.
type Draft struct {
	ID       string `json:"-"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	OwnerID  UserID `json:"ownerId"`
	PostID   PostID `json:"postId,omitempty"`
	Finished bool   `json:"finished"`

	UpdatedAt time.Time `json:"-"`
}

type Comment struct {
	ID         CommentID `json:"-"`
	PostID     PostID    `json:"postId"`
	AuthorID   UserID    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	PhotoURL   string    `json:"photoURL,omitempty"`
	Text       string    `json:"text"`

	CreatedAt time.Time `json:"-"`
}
