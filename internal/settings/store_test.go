package settings

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "settings.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Setting{}))
	return db
}

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestStore_GetDefaults(t *testing.T) {
	s := NewStore(openTestDB(t), nil, quietLogger())
	ctx := context.Background()

	assert.Equal(t, "", s.Get(ctx, KeyAPIKey, ""))
	assert.Equal(t, "gpt-3.5-turbo", s.Get(ctx, KeyModel, "gpt-3.5-turbo"))
}

func TestStore_SetUpserts(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db, nil, quietLogger())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeyModel, "gpt-4o"))
	require.NoError(t, s.Set(ctx, KeyModel, "gpt-4o-mini"))

	assert.Equal(t, "gpt-4o-mini", s.Get(ctx, KeyModel, "x"))

	var n int64
	require.NoError(t, db.Model(&Setting{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestStore_SetEmptyKey(t *testing.T) {
	s := NewStore(openTestDB(t), nil, quietLogger())
	assert.Error(t, s.Set(context.Background(), "", "v"))
}

func TestStore_SecretsSealedAtRest(t *testing.T) {
	db := openTestDB(t)
	c, err := NewCipher("passphrase")
	require.NoError(t, err)
	s := NewStore(db, c, quietLogger())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeyAPIKey, "sk-test-123"))

	var row Setting
	require.NoError(t, db.Where(&Setting{Key: KeyAPIKey}).First(&row).Error)
	assert.True(t, IsSealed(row.Value))
	assert.NotContains(t, row.Value, "sk-test-123")

	assert.Equal(t, "sk-test-123", s.Get(ctx, KeyAPIKey, ""))

	// non-secret keys stay readable
	require.NoError(t, s.Set(ctx, KeyBaseURL, "http://localhost"))
	require.NoError(t, db.Where(&Setting{Key: KeyBaseURL}).First(&row).Error)
	assert.Equal(t, "http://localhost", row.Value)
}

func TestStore_SealedValueSurvivesNewCipher(t *testing.T) {
	db := openTestDB(t)
	c1, err := NewCipher("passphrase")
	require.NoError(t, err)
	require.NoError(t, NewStore(db, c1, quietLogger()).Set(context.Background(), KeyAPIKey, "sk-1"))

	c2, err := NewCipher("passphrase")
	require.NoError(t, err)
	assert.Equal(t, "sk-1", NewStore(db, c2, quietLogger()).Get(context.Background(), KeyAPIKey, ""))
}

func TestStore_UnreadableSecretFallsBack(t *testing.T) {
	db := openTestDB(t)
	c1, err := NewCipher("one")
	require.NoError(t, err)
	require.NoError(t, NewStore(db, c1, quietLogger()).Set(context.Background(), KeyAPIKey, "sk-1"))

	c2, err := NewCipher("two")
	require.NoError(t, err)
	assert.Equal(t, "", NewStore(db, c2, quietLogger()).Get(context.Background(), KeyAPIKey, ""))
	assert.Equal(t, "", NewStore(db, nil, quietLogger()).Get(context.Background(), KeyAPIKey, ""))
}

func TestStore_PlaintextPassthrough(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewStore(db, nil, quietLogger()).Set(context.Background(), KeyAPIKey, "sk-plain"))

	c, err := NewCipher("later")
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", NewStore(db, c, quietLogger()).Get(context.Background(), KeyAPIKey, ""))
}

func TestStore_ReadErrorFallsBack(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db, nil, quietLogger())
	require.NoError(t, db.Migrator().DropTable(&Setting{}))

	assert.Equal(t, "def", s.Get(context.Background(), KeyModel, "def"))
}

func TestCipher(t *testing.T) {
	_, err := NewCipher("")
	assert.Error(t, err)

	c, err := NewCipher("k")
	require.NoError(t, err)

	a, err := c.Seal("secret")
	require.NoError(t, err)
	b, err := c.Seal("secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	got, err := c.Open(a)
	require.NoError(t, err)
	assert.Equal(t, "secret", got)

	_, err = c.Open("enc:!!!")
	assert.Error(t, err)
	_, err = c.Open("enc:AAAA")
	assert.Error(t, err)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "****", Mask("abc"))
	assert.Equal(t, "****6789", Mask("sk-123456789"))
}
