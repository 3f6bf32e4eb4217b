// Package repository maps the library's models onto document store collections.
package repository

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound  = docstore.ErrNotFound
	ErrForbidden = errors.New("not allowed")
)

var repoLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	repoLogger = l
}

// toData turns a struct with json tags into document data.
func toData(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// canModify reports whether who may change something owned by owner.
func canModify(who *model.Identity, owner model.UserID) bool {
	return who.SignedIn() && (who.Admin || who.UID == owner)
}
