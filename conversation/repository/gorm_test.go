package repository

import (
	"testing"
	"time"

	"school-portal/backend/conversation/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=postgres dbname=school_portal sslmode=disable",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	return db
}

func TestScope_BuildsFilterClauses(t *testing.T) {
	db := dryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var out []models.Conversation
		return scope(tx, Filter{
			Status:     models.StatusActive,
			UserID:     "u1",
			Role:       models.RoleStudent,
			UnreadOnly: true,
			Limit:      5,
		}).Order("last_active DESC").Find(&out)
	})

	assert.Contains(t, sql, `FROM "conversations"`)
	assert.Contains(t, sql, "status = 'active'")
	assert.Contains(t, sql, "user_id = 'u1'")
	assert.Contains(t, sql, "context_role = 'student'")
	assert.Contains(t, sql, "jsonb_array_elements(conversations.messages)")
	assert.Contains(t, sql, "ORDER BY last_active DESC")
	assert.Contains(t, sql, "LIMIT 5")
}

func TestScope_EmptyFilterHasNoWhere(t *testing.T) {
	db := dryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var out []models.Conversation
		return scope(tx, Filter{}).Find(&out)
	})

	assert.NotContains(t, sql, "WHERE")
}

func TestUpdateColumns_WritesZeroValues(t *testing.T) {
	c := &models.Conversation{ID: "c1", UpdatedAt: time.Now()}

	cols := updateColumns(c, 4)

	assert.Equal(t, int64(4), cols["version"])
	assert.Contains(t, cols, "context_grade")
	assert.Contains(t, cols, "sentiment_score")
	assert.Equal(t, models.MessageCount{}.User, cols["message_count_user"])
	assert.NotContains(t, cols, "id")
	assert.NotContains(t, cols, "created_at")
}
