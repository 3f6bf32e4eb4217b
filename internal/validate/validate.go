// Package validate checks submitted form values against field rules.
package validate

import (
	"fmt"
	"net/mail"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Errors maps a field name to its first failing message.
type Errors map[string]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+e[f])
	}
	return "invalid " + strings.Join(parts, "; ")
}

// Rule returns a message when value fails, or "".
type Rule func(value string) string

type Field struct {
	Name  string
	Rules []Rule
}

type Schema []Field

// Validate returns Errors, or nil when every field passes.
func (s Schema) Validate(values map[string]string) error {
	errs := Errors{}
	for _, f := range s {
		v := strings.TrimSpace(values[f.Name])
		for _, rule := range f.Rules {
			if msg := rule(v); msg != "" {
				errs[f.Name] = msg
				break
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func Required() Rule {
	return func(v string) string {
		if v == "" {
			return "is required"
		}
		return ""
	}
}

// Length bounds the number of characters, not bytes.
func Length(min, max int) Rule {
	return func(v string) string {
		n := utf8.RuneCountInString(v)
		if n < min || n > max {
			return fmt.Sprintf("must be between %d and %d characters", min, max)
		}
		return ""
	}
}

func MinLength(min int) Rule {
	return func(v string) string {
		if utf8.RuneCountInString(v) < min {
			return fmt.Sprintf("must be at least %d characters", min)
		}
		return ""
	}
}

func MaxLength(max int) Rule {
	return func(v string) string {
		if utf8.RuneCountInString(v) > max {
			return fmt.Sprintf("must be at most %d characters", max)
		}
		return ""
	}
}

// Email, URL, OneOf and IntRange accept an empty value; pair them with Required.

func Email() Rule {
	return func(v string) string {
		if v == "" {
			return ""
		}
		addr, err := mail.ParseAddress(v)
		if err != nil || addr.Address != v {
			return "must be a valid email address"
		}
		return ""
	}
}

func URL() Rule {
	return func(v string) string {
		if v == "" {
			return ""
		}
		u, err := url.Parse(v)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "must be an http(s) URL"
		}
		return ""
	}
}

func OneOf(options ...string) Rule {
	return func(v string) string {
		if v == "" || slices.Contains(options, v) {
			return ""
		}
		return "must be one of " + strings.Join(options, ", ")
	}
}

func IntRange(min, max int) Rule {
	return func(v string) string {
		if v == "" {
			return ""
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < min || n > max {
			return fmt.Sprintf("must be a number from %d to %d", min, max)
		}
		return ""
	}
}

// PDF categories offered by the upload and request forms.
var Categories = []string{"mathematics", "science", "programming", "literature", "history", "languages", "other"}

var (
	// BlogPost is a long-form community post.
	BlogPost = Schema{
		{Name: "title", Rules: []Rule{Required(), Length(5, 100)}},
		{Name: "body", Rules: []Rule{Required(), MinLength(100)}},
	}

	// Draft is a markdown draft; its body is unconstrained.
	Draft = Schema{
		{Name: "title", Rules: []Rule{Required(), Length(5, 100)}},
	}

	PDFUpload = Schema{
		{Name: "title", Rules: []Rule{Required(), Length(3, 200)}},
		{Name: "author", Rules: []Rule{MaxLength(100)}},
		{Name: "category", Rules: []Rule{Required(), OneOf(Categories...)}},
		{Name: "description", Rules: []Rule{MaxLength(2000)}},
	}

	PDFRequest = Schema{
		{Name: "title", Rules: []Rule{Required(), Length(3, 200)}},
		{Name: "author", Rules: []Rule{MaxLength(100)}},
		{Name: "email", Rules: []Rule{Email()}},
		{Name: "notes", Rules: []Rule{MaxLength(1000)}},
	}

	CopyrightRequest = Schema{
		{Name: "name", Rules: []Rule{Required(), Length(2, 100)}},
		{Name: "email", Rules: []Rule{Required(), Email()}},
		{Name: "pdfId", Rules: []Rule{Required()}},
		{Name: "description", Rules: []Rule{Required(), Length(20, 2000)}},
	}

	Review = Schema{
		{Name: "name", Rules: []Rule{Required(), Length(2, 50)}},
		{Name: "rating", Rules: []Rule{Required(), IntRange(1, 5)}},
		{Name: "comment", Rules: []Rule{Required(), Length(10, 1000)}},
	}

	Comment = Schema{
		{Name: "text", Rules: []Rule{Required(), MaxLength(1000)}},
	}

	Profile = Schema{
		{Name: "displayName", Rules: []Rule{Required(), Length(2, 50)}},
		{Name: "photoURL", Rules: []Rule{URL()}},
	}
)
