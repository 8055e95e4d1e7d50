package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argo-workflows-mcp/backend/pkg/models"
)

// runStoreSuite checks the behaviour every Repository implementation must
// share. repo must be freshly migrated and empty.
func runStoreSuite(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("Migrate seeds defaults and is idempotent", func(t *testing.T) {
		require.NoError(t, repo.SetSetting(ctx, models.SettingAllowMutations, "true"))
		require.NoError(t, repo.Migrate(ctx))

		settings, err := repo.ListSettings(ctx)
		require.NoError(t, err)
		for key := range models.DefaultSettings {
			assert.Contains(t, settings, key)
		}
		assert.Equal(t, "true", settings[models.SettingAllowMutations], "migration must not overwrite operator values")

		policy, err := LoadPolicy(ctx, repo)
		require.NoError(t, err)
		assert.True(t, policy.AllowMutations)
		assert.True(t, policy.RequireConfirmation)
		assert.False(t, policy.AllowDestructive)

		require.NoError(t, repo.SetSetting(ctx, models.SettingAllowMutations, "false"))
	})

	t.Run("Settings", func(t *testing.T) {
		_, err := repo.GetSetting(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, repo.SetSetting(ctx, models.SettingNamespacesDeny, "kube-*"))
		value, err := repo.GetSetting(ctx, models.SettingNamespacesDeny)
		require.NoError(t, err)
		assert.Equal(t, "kube-*", value)
	})

	t.Run("Connection CRUD", func(t *testing.T) {
		_, err := repo.GetActiveConnection(ctx)
		assert.ErrorIs(t, err, ErrNotFound)

		conn := &models.Connection{Name: " prod ", BaseURL: "https://argo.example.com/", AuthType: models.AuthTypeBearer, BearerToken: "secret-token"}
		require.NoError(t, repo.CreateConnection(ctx, conn))
		assert.NotEmpty(t, conn.ID)
		assert.Equal(t, "prod", conn.Name)
		assert.Equal(t, models.DefaultNamespace, conn.DefaultNamespace)

		got, err := repo.GetConnection(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://argo.example.com", got.BaseURL)
		assert.Equal(t, "secret-token", got.BearerToken)
		assert.Equal(t, int64(models.DefaultRequestTimeoutSeconds), got.RequestTimeoutSeconds)
		assert.False(t, got.IsActive)
		assert.True(t, conn.CreatedAt.Equal(got.CreatedAt))

		before := got.Revision()
		time.Sleep(2 * time.Millisecond)
		got.DefaultNamespace = "argo"
		require.NoError(t, repo.UpdateConnection(ctx, got))
		updated, err := repo.GetConnection(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, "argo", updated.DefaultNamespace)
		assert.NotEqual(t, before, updated.Revision())

		err = repo.CreateConnection(ctx, &models.Connection{Name: "prod", BaseURL: "http://other"})
		assert.ErrorIs(t, err, ErrConflict)

		assert.ErrorIs(t, repo.UpdateConnection(ctx, &models.Connection{ID: "nope", Name: "x", BaseURL: "http://x"}), ErrNotFound)
		assert.ErrorIs(t, repo.DeleteConnection(ctx, "nope"), ErrNotFound)
		_, err = repo.GetConnection(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, repo.DeleteConnection(ctx, conn.ID))
		_, err = repo.GetConnection(ctx, conn.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("At most one active connection", func(t *testing.T) {
		a := &models.Connection{Name: "a", BaseURL: "http://a", IsActive: true}
		b := &models.Connection{Name: "b", BaseURL: "http://b"}
		require.NoError(t, repo.CreateConnection(ctx, a))
		require.NoError(t, repo.CreateConnection(ctx, b))

		active, err := repo.GetActiveConnection(ctx)
		require.NoError(t, err)
		assert.Equal(t, a.ID, active.ID)

		require.NoError(t, repo.ActivateConnection(ctx, b.ID))
		active, err = repo.GetActiveConnection(ctx)
		require.NoError(t, err)
		assert.Equal(t, b.ID, active.ID)

		c := &models.Connection{Name: "c", BaseURL: "http://c", IsActive: true}
		require.NoError(t, repo.CreateConnection(ctx, c))

		assert.ErrorIs(t, repo.ActivateConnection(ctx, "nope"), ErrNotFound)

		conns, err := repo.ListConnections(ctx)
		require.NoError(t, err)
		require.Len(t, conns, 3)
		var activeCount int
		for _, conn := range conns {
			if conn.IsActive {
				activeCount++
				assert.Equal(t, c.ID, conn.ID)
			}
		}
		assert.Equal(t, 1, activeCount)
		assert.Equal(t, []string{"a", "b", "c"}, []string{conns[0].Name, conns[1].Name, conns[2].Name})

		require.NoError(t, repo.DeleteConnection(ctx, c.ID))
		_, err = repo.GetActiveConnection(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Audit paging newest first", func(t *testing.T) {
		base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			require.NoError(t, repo.AppendAudit(ctx, &models.AuditRecord{
				ToolName:      fmt.Sprintf("tool-%d", i),
				Arguments:     "{}",
				Status:        models.AuditStatusSuccess,
				ResultSummary: "ok",
				DurationMs:    int64(i),
				ExecutedAt:    base.Add(time.Duration(i) * time.Minute),
			}))
		}

		n, err := repo.CountAudit(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		page, err := repo.ListAudit(ctx, 0, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "tool-4", page[0].ToolName)
		assert.Equal(t, "tool-3", page[1].ToolName)
		assert.True(t, page[0].ExecutedAt.Equal(base.Add(4*time.Minute)))

		page, err = repo.ListAudit(ctx, 4, 2)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "tool-0", page[0].ToolName)
		assert.Equal(t, models.AuditStatusSuccess, page[0].Status)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, repo.Ping(ctx))
	})
}
