package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrontMatter(t *testing.T) {
	testCases := []struct {
		name          string
		markdown      []byte
		expectError   bool
		expectedTitle string
		expectedDate  time.Time
	}{
		{
			name: "Valid Front Matter",
			markdown: []byte(`%%%
title = "Hello World"
date = 2025-01-01 00:00:00Z
%%%
# Content`),
			expectedTitle: "Hello World",
			expectedDate:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:        "No Front Matter",
			markdown:    []byte("# Just Content\nNo front matter here."),
			expectError: true,
		},
		{
			name:        "Empty File",
			markdown:    []byte(""),
			expectError: true,
		},
		{
			name: "Content Before Front Matter",
			markdown: []byte(`
# This should be ignored
%%%
title = "Hello World"
%%%
# Content`),
			expectError: true,
		},
		{
			name: "Extra Whitespace",
			markdown: []byte(`


%%%

title = "Hello World"
date = 2025-01-01 00:00:00Z

%%%
# Content`),
			expectedTitle: "Hello World",
			expectedDate:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "Malformed Front Matter",
			markdown: []byte(`%%%
title = "Incomplete
# Content`),
			expectError: true,
		},
		{
			name: "No Date",
			markdown: []byte(`%%%
title = "No Date"
%%%
# Content`),
			expectedTitle: "No Date",
		},
		{
			name:        "Only Delimiters",
			markdown:    []byte("%%% %%%"),
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fm, err := ParseFrontMatter(tc.markdown)
			if tc.expectError {
				assert.Error(t, err)
				assert.Nil(t, fm)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expectedTitle, fm.Title)
			assert.True(t, fm.Date.Equal(tc.expectedDate), "date %v", fm.Date)
			assert.Equal(t, "en", fm.Language)
		})
	}
}

func TestFrontMatterTags(t *testing.T) {
	fm, err := ParseFrontMatter([]byte("%%%\ntitle = \"T\"\nkeyword = [\"Go\", \" SQL \", \"\"]\n%%%\nbody"))
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "sql"}, fm.Tags())
}

func TestStripFrontMatter(t *testing.T) {
	md := []byte("%%%\ntitle = \"T\"\n%%%\n# Heading\n")
	assert.Equal(t, "# Heading\n", string(StripFrontMatter(md)))

	plain := []byte("# Heading\n")
	assert.Equal(t, plain, StripFrontMatter(plain))
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, ContentHash([]byte("abc")), ContentHashString("abc"))
	assert.Len(t, ContentHash(nil), 64)
	assert.NotEqual(t, ContentHashString("a"), ContentHashString("b"))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "intro-to-linear-algebra", Slugify("  Intro to Linear Algebra!  "))
	assert.Equal(t, "c-notes", Slugify("C++ notes"))
	assert.Equal(t, "", Slugify("***"))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short text", Excerpt("short\n\ntext", 50))
	assert.Equal(t, "the quick brown…", Excerpt("the quick brown fox jumps", 18))
}
