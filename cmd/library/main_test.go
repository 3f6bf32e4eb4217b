package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/debemdeboas/the-library/internal/repository"
	"github.com/debemdeboas/the-library/internal/views"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const importedBody = "Dynamic programming stores the answers of overlapping subproblems so every one of them is solved once and reused later."

func TestWriteExampleConfig(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeExampleConfig(&buf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, exampleConfigHeader))
	assert.NotContains(t, out, "secret")

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.Default().Server.Port, cfg.Server.Port)
	assert.Equal(t, "/auth/login", cfg.Auth.LoginURL)
}

func TestConfigGenerateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")

	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "generate", path})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "posts_per_page: 50")
	assert.Contains(t, out.String(), path)
}

func TestImportPosts(t *testing.T) {
	dir := t.TempDir()
	withTitle := "%%%\ntitle = \"Dynamic Programming\"\nkeyword = [\"Algorithms\"]\n%%%\n\n" + importedBody
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dp.md"), []byte(withTitle), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greedy-choices.md"), []byte(importedBody), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "drafts.md"), 0o755))

	store, err := docstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()
	repo := repository.NewBlogRepository(store)

	var out bytes.Buffer
	n, err := importPosts(context.Background(), repo, &model.Identity{UID: "owner"}, dir, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, out.String(), "dp.md")

	posts := repo.List(repository.BlogListOptions{Sort: repository.SortTitle})
	require.Len(t, posts, 2)
	titles := []string{posts[0].Title, posts[1].Title}
	assert.ElementsMatch(t, []string{"Dynamic Programming", "greedy-choices"}, titles)
	for _, p := range posts {
		assert.Equal(t, model.UserID("owner"), p.AuthorID)
		if p.Title == "Dynamic Programming" {
			assert.Equal(t, []string{"algorithms"}, p.Tags)
		}
	}
}

func TestImportPostsMissingDirectory(t *testing.T) {
	_, err := importPosts(context.Background(), nil, &model.Identity{UID: "owner"}, filepath.Join(t.TempDir(), "nope"), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestShowViews(t *testing.T) {
	store, err := docstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()
	counter := views.NewDocCounter(store, config.CollectionPDFs)

	var out bytes.Buffer
	require.NoError(t, showViews(context.Background(), counter, config.CollectionPDFs, "p1", true, &out))
	require.NoError(t, showViews(context.Background(), counter, config.CollectionPDFs, "p1", true, &out))
	out.Reset()
	require.NoError(t, showViews(context.Background(), counter, config.CollectionPDFs, "p1", false, &out))
	assert.Contains(t, out.String(), "2")
	assert.Contains(t, out.String(), "p1")

	assert.True(t, validCollection(config.CollectionBlogPosts))
	assert.False(t, validCollection(config.CollectionUsers))
}

func TestAdminSign(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "privkey.pem")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))

	challenge := []byte("sign me please")
	challengeB64 := base64.StdEncoding.EncodeToString(challenge)

	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("\n" + challengeB64 + "\nnot base64!\nquit\nignored\n"))
	cmd.SetArgs([]string{"admin", "sign", "--key", keyPath})
	require.NoError(t, cmd.Execute())

	var signature []byte
	for _, line := range strings.Split(out.String(), "\n") {
		if sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(stripPrompt(line))); err == nil && len(sig) == ed25519.SignatureSize {
			signature = sig
		}
	}
	require.NotNil(t, signature, out.String())
	assert.True(t, ed25519.Verify(pub, challenge, signature))
	assert.Contains(t, out.String(), "Error: invalid base64 challenge")
}

// stripPrompt drops the prompt printed before each challenge.
func stripPrompt(line string) string {
	if i := strings.LastIndex(line, "): "); i >= 0 {
		return line[i+3:]
	}
	return line
}
