package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/clerk/clerk-sdk-go/v2"
	clerkhttp "github.com/clerk/clerk-sdk-go/v2/http"
	clerkuser "github.com/clerk/clerk-sdk-go/v2/user"
	"github.com/debemdeboas/the-library/internal/cache"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/model"
)

const identityTTL = 5 * time.Minute

// ClerkUsers is the part of the Clerk user API the provider calls.
type ClerkUsers interface {
	Get(ctx context.Context, id string) (*clerk.User, error)
	Update(ctx context.Context, id string, params *clerkuser.UpdateParams) (*clerk.User, error)
}

type clerkUserAPI struct{}

func (clerkUserAPI) Get(ctx context.Context, id string) (*clerk.User, error) {
	return clerkuser.Get(ctx, id)
}

func (clerkUserAPI) Update(ctx context.Context, id string, params *clerkuser.UpdateParams) (*clerk.User, error) {
	return clerkuser.Update(ctx, id, params)
}

type cachedIdentity struct {
	identity *model.Identity
	expires  time.Time
}

type ClerkProvider struct {
	users         ClerkUsers
	store         UserStore
	sessionCookie string
	webhookSecret string
	allowUnsigned bool

	identities *cache.Cache[string, cachedIdentity]
	now        func() time.Time
}

// NewClerkProvider sets the global Clerk key. store may be nil.
func NewClerkProvider(cfg config.AuthConfig, store UserStore) *ClerkProvider {
	clerk.SetKey(cfg.ClerkSecretKey)
	return newClerkProvider(clerkUserAPI{}, cfg, store)
}

func newClerkProvider(users ClerkUsers, cfg config.AuthConfig, store UserStore) *ClerkProvider {
	if cfg.WebhookSecret == "" {
		if cfg.AllowUnsignedWebhooks {
			authLogger.Warn().Msg("No Clerk webhook secret set, accepting unsigned user webhooks")
		} else {
			authLogger.Warn().Msg("No Clerk webhook secret set, user webhooks are rejected")
		}
	}
	return &ClerkProvider{
		users:         users,
		store:         store,
		sessionCookie: cfg.SessionCookie,
		webhookSecret: cfg.WebhookSecret,
		allowUnsigned: cfg.AllowUnsignedWebhooks,
		identities:    cache.NewCache[string, cachedIdentity](),
		now:           time.Now,
	}
}

func (c *ClerkProvider) Name() string { return "clerk" }

// Middleware verifies the session token from the Authorization header or the
// session cookie, then resolves the Clerk user behind it.
func (c *ClerkProvider) Middleware() func(http.Handler) http.Handler {
	verify := clerkhttp.WithHeaderAuthorization(
		clerkhttp.AuthorizationJWTExtractor(func(r *http.Request) string {
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				return strings.TrimPrefix(h, "Bearer ")
			}
			cookie, err := r.Cookie(c.sessionCookie)
			if err != nil {
				return ""
			}
			return cookie.Value
		}),
	)

	return func(next http.Handler) http.Handler {
		return verify(c.resolve(next))
	}
}

func (c *ClerkProvider) resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := clerk.SessionClaimsFromContext(r.Context())
		if !ok || claims.Subject == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := c.identity(r.Context(), claims.Subject)
		if err != nil {
			authLogger.Warn().Err(err).Str("user_id", claims.Subject).Msg("Failed to resolve Clerk user")
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (c *ClerkProvider) identity(ctx context.Context, uid string) (*model.Identity, error) {
	if cached, ok := c.identities.Get(uid); ok && c.now().Before(cached.expires) {
		return cached.identity, nil
	}

	usr, err := c.users.Get(ctx, uid)
	if err != nil {
		return nil, err
	}

	id := identityFromClerk(usr)
	c.identities.Set(uid, cachedIdentity{identity: id, expires: c.now().Add(identityTTL)})
	return id, nil
}

func (c *ClerkProvider) UpdateProfile(ctx context.Context, uid model.UserID, displayName string) error {
	first, last, _ := strings.Cut(strings.TrimSpace(displayName), " ")
	usr, err := c.users.Update(ctx, string(uid), &clerkuser.UpdateParams{
		FirstName: clerk.String(first),
		LastName:  clerk.String(strings.TrimSpace(last)),
	})
	if err != nil {
		return err
	}

	c.identities.Delete(string(uid))
	if c.store != nil {
		return c.store.Upsert(ctx, userFromClerk(usr))
	}
	return nil
}

// SignOut expires the session cookie. The Clerk session itself is ended by the frontend SDK.
func (c *ClerkProvider) SignOut(w http.ResponseWriter, r *http.Request) {
	if claims, ok := clerk.SessionClaimsFromContext(r.Context()); ok {
		c.identities.Delete(claims.Subject)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func identityFromClerk(u *clerk.User) *model.Identity {
	usr := userFromClerk(u)
	return &model.Identity{
		UID:         usr.ID,
		DisplayName: usr.DisplayName,
		Email:       usr.Email,
		PhotoURL:    usr.PhotoURL,
	}
}

func userFromClerk(u *clerk.User) *model.User {
	name := strings.TrimSpace(deref(u.FirstName) + " " + deref(u.LastName))
	if name == "" {
		name = deref(u.Username)
	}

	email := ""
	for _, addr := range u.EmailAddresses {
		if addr == nil {
			continue
		}
		if email == "" || (u.PrimaryEmailAddressID != nil && addr.ID == *u.PrimaryEmailAddressID) {
			email = addr.EmailAddress
		}
	}
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	return &model.User{
		ID:          model.UserID(u.ID),
		DisplayName: name,
		Email:       email,
		PhotoURL:    deref(u.ImageURL),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
