package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRules(t *testing.T) {
	testCases := []struct {
		name  string
		rule  Rule
		value string
		ok    bool
	}{
		{"required empty", Required(), "", false},
		{"required set", Required(), "x", true},
		{"length short", Length(5, 100), "abcd", false},
		{"length min", Length(5, 100), "abcde", true},
		{"length max", Length(5, 100), strings.Repeat("a", 100), true},
		{"length long", Length(5, 100), strings.Repeat("a", 101), false},
		{"length counts runes", Length(5, 5), "ééééé", true},
		{"min length", MinLength(100), strings.Repeat("b", 99), false},
		{"max length", MaxLength(3), "abcd", false},
		{"email ok", Email(), "reader@example.com", true},
		{"email named", Email(), "Reader <reader@example.com>", false},
		{"email bad", Email(), "reader", false},
		{"email empty", Email(), "", true},
		{"url ok", URL(), "https://example.com/me.png", true},
		{"url scheme", URL(), "ftp://example.com", false},
		{"url relative", URL(), "/me.png", false},
		{"one of", OneOf("a", "b"), "b", true},
		{"one of miss", OneOf("a", "b"), "c", false},
		{"int range", IntRange(1, 5), "5", true},
		{"int range low", IntRange(1, 5), "0", false},
		{"int range nan", IntRange(1, 5), "five", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.rule(tc.value)
			if tc.ok {
				assert.Empty(t, msg)
			} else {
				assert.NotEmpty(t, msg)
			}
		})
	}
}

func TestBlogPostSchema(t *testing.T) {
	err := BlogPost.Validate(map[string]string{"title": "Hi", "body": "short"})
	require.Error(t, err)

	var errs Errors
	require.ErrorAs(t, err, &errs)
	assert.Contains(t, errs, "title")
	assert.Contains(t, errs, "body")
	assert.Equal(t, "invalid body: must be at least 100 characters; title: must be between 5 and 100 characters", err.Error())

	err = BlogPost.Validate(map[string]string{
		"title": "A proper title",
		"body":  strings.Repeat("word ", 20),
	})
	assert.NoError(t, err)
}

func TestDraftSchemaBodyUnconstrained(t *testing.T) {
	assert.NoError(t, Draft.Validate(map[string]string{"title": "Draft title"}))
	assert.Error(t, Draft.Validate(map[string]string{"title": "   abc   "}), "surrounding space is trimmed")
}

func TestReviewSchema(t *testing.T) {
	valid := map[string]string{"name": "Ana", "rating": "4", "comment": "Great library!"}
	assert.NoError(t, Review.Validate(valid))

	valid["rating"] = "6"
	err := Review.Validate(valid)
	var errs Errors
	require.ErrorAs(t, err, &errs)
	assert.Equal(t, []string{"rating"}, keys(errs))
}

func keys(e Errors) []string {
	out := make([]string, 0, len(e))
	for k := range e {
		out = append(out, k)
	}
	return out
}
