package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/rs/zerolog/hlog"
)

const AdminUserID model.UserID = "admin"

// AdminKeyProvider signs in the site administrator by an Ed25519 signature over
// a server-issued challenge. Refreshing the challenge revokes every issued token.
type AdminKeyProvider struct {
	publicKey ed25519.PublicKey

	mu        sync.RWMutex
	challenge []byte
}

func ParsePublicKey(publicKeyPEM string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing the public key")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	publicKey, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("key is not an Ed25519 public key")
	}
	return publicKey, nil
}

func NewAdminKeyProvider(publicKeyPEM string) (*AdminKeyProvider, error) {
	publicKey, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	p := &AdminKeyProvider{publicKey: publicKey}
	if err := p.RefreshChallenge(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AdminKeyProvider) Name() string { return "admin-key" }

func (p *AdminKeyProvider) Challenge() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.challenge
}

func (p *AdminKeyProvider) RefreshChallenge() error {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return fmt.Errorf("failed to generate challenge: %w", err)
	}

	p.mu.Lock()
	p.challenge = challenge
	p.mu.Unlock()
	return nil
}

func (p *AdminKeyProvider) verify(encoded string) bool {
	signature, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(p.publicKey, p.Challenge(), signature)
}

func adminIdentity() *model.Identity {
	return &model.Identity{UID: AdminUserID, DisplayName: "Administrator", Admin: true}
}

// Middleware accepts the signature from the X-Admin-Signature header or the admin token cookie.
func (p *AdminKeyProvider) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(config.HAdminSignature)
			if token == "" {
				if cookie, err := r.Cookie(config.CookieAdminToken); err == nil {
					token = cookie.Value
				}
			}

			if token != "" && p.verify(token) {
				r = r.WithContext(WithIdentity(r.Context(), adminIdentity()))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ChallengeHandler returns the current challenge on GET and issues a new one on POST.
func (p *AdminKeyProvider) ChallengeHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		if err := p.RefreshChallenge(); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Failed to refresh challenge")
			http.Error(w, config.ErrInternalServerError, http.StatusInternalServerError)
			return
		}
	default:
		http.Error(w, config.HTTPErrMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set(config.HCType, config.CTypeJSON)
	json.NewEncoder(w).Encode(map[string]string{
		"challenge": base64.StdEncoding.EncodeToString(p.Challenge()),
	})
}

// VerifyHandler checks the signature header and stores it in the admin token cookie.
func (p *AdminKeyProvider) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, config.HTTPErrMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	signature := strings.TrimSpace(r.Header.Get(config.HAdminSignature))
	if signature == "" || !p.verify(signature) {
		hlog.FromRequest(r).Warn().Msg("Admin signature verification failed")
		http.Error(w, config.ErrInvalidSignature, http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     config.CookieAdminToken,
		Value:    signature,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
		MaxAge:   3600 * 24,
	})
	w.WriteHeader(http.StatusOK)
}

// Sign signs a base64 challenge with priv. It backs the admin sign command.
func Sign(priv ed25519.PrivateKey, challengeB64 string) (string, error) {
	challenge, err := base64.StdEncoding.DecodeString(strings.TrimSpace(challengeB64))
	if err != nil {
		return "", fmt.Errorf("invalid base64 challenge: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, challenge)), nil
}

func ParsePrivateKey(privateKeyPEM []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	edPriv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("not an Ed25519 private key")
	}
	return edPriv, nil
}
