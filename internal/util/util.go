// Package util holds content hashing and markdown front matter helpers.
package util

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gomarkdown/markdown"
	"github.com/mmarkdown/mmark/v2/mast"
)

var ErrNoFrontMatter = errors.New("invalid front matter format")

const frontMatterDelimiter = "%%%"

// FrontMatter is the mmark title block of a post plus how many bytes it used.
type FrontMatter struct {
	*mast.TitleData
	Consumed int
}

// Tags are the front matter keywords, lower-cased.
func (f *FrontMatter) Tags() []string {
	tags := make([]string, 0, len(f.Keyword))
	for _, k := range f.Keyword {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			tags = append(tags, k)
		}
	}
	return tags
}

func ContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

func ContentHashString(content string) string {
	return ContentHash([]byte(content))
}

// ParseFrontMatter reads a %%%-delimited TOML block at the start of md.
func ParseFrontMatter(md []byte) (*FrontMatter, error) {
	md = markdown.NormalizeNewlines(md)
	md = bytes.TrimLeft(md, "\n \t\r")

	delim := []byte(frontMatterDelimiter)
	if len(md) < 2*len(delim) || !bytes.HasPrefix(md, delim) {
		return nil, ErrNoFrontMatter
	}

	second := bytes.Index(md[len(delim):], delim)
	if second == -1 {
		return nil, ErrNoFrontMatter
	}

	end := second + 2*len(delim) + 1
	if end > len(md) {
		return nil, ErrNoFrontMatter
	}

	fm := &FrontMatter{TitleData: &mast.TitleData{}}
	if _, err := toml.Decode(string(md[len(delim):end-len(delim)-1]), fm.TitleData); err != nil {
		return nil, fmt.Errorf("decode front matter: %w", err)
	}
	if fm.Language == "" {
		fm.Language = "en"
	}
	fm.Consumed = end

	return fm, nil
}

// StripFrontMatter returns md without its front matter block, if it has one.
func StripFrontMatter(md []byte) []byte {
	fm, err := ParseFrontMatter(md)
	if err != nil {
		return md
	}
	md = bytes.TrimLeft(markdown.NormalizeNewlines(md), "\n \t\r")
	return md[fm.Consumed:]
}

var (
	nonSlug    = regexp.MustCompile(`[^a-z0-9]+`)
	slugTrimRe = regexp.MustCompile(`^-+|-+$`)
)

// Slugify turns a title into a URL path segment.
func Slugify(s string) string {
	s = nonSlug.ReplaceAllString(strings.ToLower(s), "-")
	return slugTrimRe.ReplaceAllString(s, "")
}

// Excerpt returns the first n runes of s on a word boundary.
func Excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
