package model

import (
	"fmt"
	"time"
)

type PDF struct {
	ID PDFID `json:"-"`

	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`

	URL        string `json:"url"`
	StorageKey string `json:"storageKey"`
	Size       int64  `json:"size"`

	UploaderID UserID `json:"uploaderId"`
	Views      int64  `json:"views"`

	CreatedAt time.Time `json:"-"`
}

// HumanSize formats Size as KB or MB.
func (p *PDF) HumanSize() string {
	switch {
	case p.Size >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(p.Size)/(1<<20))
	case p.Size >= 1<<10:
		return fmt.Sprintf("%d KB", p.Size>>10)
	}
	return fmt.Sprintf("%d B", p.Size)
}

type RequestStatus string

const (
	RequestOpen     RequestStatus = "open"
	RequestResolved RequestStatus = "resolved"
)

type PDFRequest struct {
	ID     string        `json:"-"`
	Title  string        `json:"title"`
	Author string        `json:"author,omitempty"`
	Email  string        `json:"email,omitempty"`
	Notes  string        `json:"notes,omitempty"`
	UserID UserID        `json:"userId,omitempty"`
	Status RequestStatus `json:"status"`

	CreatedAt time.Time `json:"-"`
}

type CopyrightRequest struct {
	ID          string        `json:"-"`
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	PDFID       PDFID         `json:"pdfId"`
	Description string        `json:"description"`
	Status      RequestStatus `json:"status"`

	CreatedAt time.Time `json:"-"`
}

type Review struct {
	ID      string `json:"-"`
	Name    string `json:"name"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
	UserID  UserID `json:"userId,omitempty"`

	CreatedAt time.Time `json:"-"`
}

// Stars renders the rating as filled and empty stars.
func (r *Review) Stars() string {
	s := ""
	for i := 1; i <= 5; i++ {
		if i <= r.Rating {
			s += "★"
		} else {
			s += "☆"
		}
	}
	return s
}

type User struct {
	ID          UserID `json:"-"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`

	CreatedAt time.Time `json:"-"`
}

// Identity is the signed-in user of a request.
type Identity struct {
	UID         UserID
	DisplayName string
	Email       string
	PhotoURL    string
	Admin       bool
}

func (i *Identity) SignedIn() bool {
	return i != nil && i.UID != ""
}
