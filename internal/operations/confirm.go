package operations

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const tokenVersion = "v1"

var (
	// ErrTokenInvalid covers malformed, forged, reused or mismatched tokens.
	ErrTokenInvalid = errors.New("confirmation token is not valid for this action")
	// ErrTokenUsed is returned when a token was already redeemed. It matches
	// ErrTokenInvalid.
	ErrTokenUsed = fmt.Errorf("%w: already used", ErrTokenInvalid)
	// ErrTokenExpired is returned for well-formed tokens older than the TTL.
	ErrTokenExpired = errors.New("confirmation token expired")
)

// Action identifies the pending destructive call a token authorizes.
// Connection is the revision of the backend connection the action targets,
// so a token does not carry over to another cluster.
type Action struct {
	Connection string
	Verb       string
	Namespace  string
	Name       string
	Reason     string
}

// Confirmer issues and redeems confirmation tokens. A token is an HMAC over
// the action and its issue time, so it is only accepted for the exact
// (verb, namespace, name, reason) it was issued for, once, within the TTL.
type Confirmer struct {
	key []byte
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	consumed map[string]time.Time
}

// NewConfirmer creates a Confirmer. An empty secret selects a random
// per-process key, so tokens do not survive a restart.
func NewConfirmer(secret string, ttl time.Duration) (*Confirmer, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("confirmation ttl must be positive, got %s", ttl)
	}
	key := []byte(secret)
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate confirmation key: %w", err)
		}
	}
	return &Confirmer{
		key:      key,
		ttl:      ttl,
		now:      time.Now,
		consumed: make(map[string]time.Time),
	}, nil
}

// TTL is how long issued tokens stay redeemable.
func (c *Confirmer) TTL() time.Duration { return c.ttl }

// Issue returns a fresh token bound to a.
func (c *Confirmer) Issue(a Action) (string, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("failed to generate token nonce: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(nonceBytes)
	issuedAt := strconv.FormatInt(c.now().Unix(), 10)
	sig := c.sign(a, issuedAt, nonce)
	return strings.Join([]string{tokenVersion, issuedAt, nonce, sig}, "."), nil
}

// Redeem checks token against a and marks it used.
func (c *Confirmer) Redeem(a Action, token string) error {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 4 || parts[0] != tokenVersion {
		return ErrTokenInvalid
	}
	issuedAt, nonce, sig := parts[1], parts[2], parts[3]
	issued, err := strconv.ParseInt(issuedAt, 10, 64)
	if err != nil {
		return ErrTokenInvalid
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(a, issuedAt, nonce))) {
		return ErrTokenInvalid
	}

	now := c.now()
	expiry := time.Unix(issued, 0).Add(c.ttl)
	if !now.Before(expiry) {
		return ErrTokenExpired
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for t, exp := range c.consumed {
		if !now.Before(exp) {
			delete(c.consumed, t)
		}
	}
	if _, used := c.consumed[sig]; used {
		return ErrTokenUsed
	}
	c.consumed[sig] = expiry
	return nil
}

// Release makes a redeemed token usable again. It is called when the action
// the token authorized did not reach the backend successfully.
func (c *Confirmer) Release(token string) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 4 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.consumed, parts[3])
}

func (c *Confirmer) sign(a Action, issuedAt, nonce string) string {
	mac := hmac.New(sha256.New, c.key)
	for _, field := range []string{tokenVersion, a.Connection, a.Verb, a.Namespace, a.Name, a.Reason, issuedAt, nonce} {
		// Length-prefixing keeps ("ab","c") and ("a","bc") apart.
		fmt.Fprintf(mac, "%d:%s;", len(field), field)
	}
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
