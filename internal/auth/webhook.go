package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/rs/zerolog/hlog"
)

const (
	webhookTolerance = 5 * time.Minute
	webhookMaxBody   = 1 << 20
)

var errWebhookSignature = errors.New("webhook signature mismatch")

type webhookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// HandleWebhookUser keeps the users collection in sync with user.created,
// user.updated and user.deleted events.
func (c *ClerkProvider) HandleWebhookUser(w http.ResponseWriter, r *http.Request) {
	l := hlog.FromRequest(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBody))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	switch {
	case c.webhookSecret != "":
		if err := verifyWebhook(c.webhookSecret, r.Header, body, c.now()); err != nil {
			l.Warn().Err(err).Msg("Rejected user webhook")
			http.Error(w, config.ErrInvalidSignature, http.StatusUnauthorized)
			return
		}
	case !c.allowUnsigned:
		l.Warn().Msg("Rejected unsigned user webhook")
		http.Error(w, config.ErrInvalidSignature, http.StatusUnauthorized)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	var usr clerk.User
	if err := json.Unmarshal(event.Data, &usr); err != nil || usr.ID == "" {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	l.Info().Str("type", event.Type).Str("user_id", usr.ID).Msg("User webhook")
	c.identities.Delete(usr.ID)

	if c.store == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch event.Type {
	case "user.created", "user.updated":
		err = c.store.Upsert(r.Context(), userFromClerk(&usr))
	case "user.deleted":
		err = c.store.Delete(r.Context(), model.UserID(usr.ID))
	default:
		l.Debug().Str("type", event.Type).Msg("Ignoring webhook event")
	}
	if err != nil {
		l.Error().Err(err).Str("user_id", usr.ID).Msg("Failed to sync user")
		http.Error(w, config.ErrInternalServerError, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// verifyWebhook checks the svix-id, svix-timestamp and svix-signature headers
// Clerk sends with every webhook.
func verifyWebhook(secret string, h http.Header, body []byte, now time.Time) error {
	id := h.Get("svix-id")
	ts := h.Get("svix-timestamp")
	sigs := h.Get("svix-signature")
	if id == "" || ts == "" || sigs == "" {
		return errors.New("missing webhook headers")
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.New("invalid webhook timestamp")
	}
	if d := now.Sub(time.Unix(sec, 0)); d > webhookTolerance || d < -webhookTolerance {
		return errors.New("webhook timestamp out of tolerance")
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return errors.New("invalid webhook secret")
	}

	expected := signWebhook(key, id, ts, body)
	for _, sig := range strings.Fields(sigs) {
		version, value, ok := strings.Cut(sig, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(value), []byte(expected)) {
			return nil
		}
	}
	return errWebhookSignature
}

func signWebhook(key []byte, id, ts string, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + ts + "."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
