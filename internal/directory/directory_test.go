package directory

import (
	"testing"

	"chatbi/internal/database"
	"chatbi/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func TestSeedAndResolveGroup(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, Seed(db))

	dir := NewGormDirectory(db)
	members, err := dir.ResolveGroup("g1")
	require.NoError(t, err)
	require.Len(t, members, 3)
	for _, m := range members {
		assert.Equal(t, models.RecipientTypeUser, m.Type)
		assert.NotEmpty(t, m.Email)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, Seed(db))
	require.NoError(t, Seed(db))

	var count int64
	require.NoError(t, db.Model(&models.DirectoryUser{}).Count(&count).Error)
	assert.EqualValues(t, 6, count)
}

func TestResolveUnknownGroup(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, Seed(db))

	members, err := NewGormDirectory(db).ResolveGroup("does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestListRecipients(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, Seed(db))

	recipients, err := NewGormDirectory(db).ListRecipients()
	require.NoError(t, err)
	require.Len(t, recipients, 9) // 6 users + 3 groups

	// users come first, groups carry their member counts
	assert.Equal(t, models.RecipientTypeUser, recipients[0].Type)
	byID := make(map[string]models.Recipient)
	for _, r := range recipients {
		byID[r.ID] = r
	}
	assert.Equal(t, 3, byID["g1"].MemberCount)
	assert.Equal(t, 2, byID["g2"].MemberCount)
	assert.Equal(t, 2, byID["g3"].MemberCount)
}
