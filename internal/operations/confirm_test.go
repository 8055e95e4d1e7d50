package operations

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfirmer(t *testing.T, now *time.Time) *Confirmer {
	t.Helper()
	c, err := NewConfirmer("", 10*time.Minute)
	require.NoError(t, err)
	c.now = func() time.Time { return *now }
	return c
}

func TestConfirmer_RoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newTestConfirmer(t, &now)
	action := Action{Verb: "terminate", Namespace: "argo", Name: "wf-1", Reason: "stuck"}

	token, err := c.Issue(action)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "v1."))

	assert.NoError(t, c.Redeem(action, token))
	err = c.Redeem(action, token)
	assert.ErrorIs(t, err, ErrTokenUsed, "tokens are single use")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestConfirmer_RejectsOtherTargets(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newTestConfirmer(t, &now)
	action := Action{Verb: "terminate", Namespace: "A", Name: "X", Reason: "stuck"}
	token, err := c.Issue(action)
	require.NoError(t, err)

	others := []Action{
		{Verb: "terminate", Namespace: "A", Name: "Y", Reason: "stuck"},
		{Verb: "terminate", Namespace: "B", Name: "X", Reason: "stuck"},
		{Verb: "terminate", Namespace: "A", Name: "X", Reason: "other"},
		{Verb: "retry", Namespace: "A", Name: "X", Reason: "stuck"},
		{Connection: "prod@1", Verb: "terminate", Namespace: "A", Name: "X", Reason: "stuck"},
	}
	for _, other := range others {
		assert.ErrorIs(t, c.Redeem(other, token), ErrTokenInvalid, "%+v", other)
	}
	// Rejections do not burn the token for its real target.
	assert.NoError(t, c.Redeem(action, token))
}

func TestConfirmer_ReleaseAllowsAnotherRedeem(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newTestConfirmer(t, &now)
	action := Action{Connection: "c1@1", Verb: "terminate", Namespace: "argo", Name: "wf-1", Reason: "stuck"}
	token, err := c.Issue(action)
	require.NoError(t, err)

	require.NoError(t, c.Redeem(action, token))
	c.Release(token)
	require.NoError(t, c.Redeem(action, token))
	assert.ErrorIs(t, c.Redeem(action, token), ErrTokenUsed)

	c.Release("not-a-token")
}

func TestConfirmer_Expiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newTestConfirmer(t, &now)
	action := Action{Verb: "terminate", Namespace: "argo", Name: "wf-1"}
	token, err := c.Issue(action)
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	assert.ErrorIs(t, c.Redeem(action, token), ErrTokenExpired)
}

func TestConfirmer_PrunesConsumedTokens(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newTestConfirmer(t, &now)
	a := Action{Verb: "terminate", Namespace: "argo", Name: "a"}
	b := Action{Verb: "terminate", Namespace: "argo", Name: "b"}

	ta, err := c.Issue(a)
	require.NoError(t, err)
	require.NoError(t, c.Redeem(a, ta))
	assert.Len(t, c.consumed, 1)

	now = now.Add(11 * time.Minute)
	tb, err := c.Issue(b)
	require.NoError(t, err)
	require.NoError(t, c.Redeem(b, tb))
	assert.Len(t, c.consumed, 1)
}

func TestConfirmer_MalformedTokens(t *testing.T) {
	now := time.Now()
	c := newTestConfirmer(t, &now)
	action := Action{Verb: "terminate", Namespace: "argo", Name: "wf-1"}
	for _, token := range []string{"", "mock-token-123", "v1.x.y.z", "v2.1.2.3", "v1.123.nonce"} {
		assert.ErrorIs(t, c.Redeem(action, token), ErrTokenInvalid, token)
	}
}

func TestConfirmer_SharedSecretAcrossInstances(t *testing.T) {
	a, err := NewConfirmer("shared", time.Minute)
	require.NoError(t, err)
	b, err := NewConfirmer("shared", time.Minute)
	require.NoError(t, err)
	other, err := NewConfirmer("different", time.Minute)
	require.NoError(t, err)

	action := Action{Verb: "terminate", Namespace: "argo", Name: "wf-1"}
	token, err := a.Issue(action)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Redeem(action, token), ErrTokenInvalid)
	assert.NoError(t, b.Redeem(action, token))
}

func TestNewConfirmer_RejectsNonPositiveTTL(t *testing.T) {
	_, err := NewConfirmer("", 0)
	assert.Error(t, err)
}
