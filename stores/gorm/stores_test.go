//go:build !wasm
// +build !wasm

package gorm

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// every pooled connection would otherwise get its own in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return db
}

func TestTokenStore_GetSetClear(t *testing.T) {
	store := NewTokenStore(openTestDB(t), "")

	_, ok := store.Get()
	assert.False(t, ok)

	store.Set("T1")
	token, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "T1", token)

	store.Set("T2")
	token, ok = store.Get()
	require.True(t, ok)
	assert.Equal(t, "T2", token, "Set must replace the previous credential")

	store.Clear()
	_, ok = store.Get()
	assert.False(t, ok)
}

func TestTokenStore_Profiles(t *testing.T) {
	db := openTestDB(t)
	a := NewTokenStore(db, "a")
	b := NewTokenStore(db, "b")

	a.Set("token-a")
	_, ok := b.Get()
	assert.False(t, ok)

	b.Set("token-b")
	a.Clear()

	token, ok := b.Get()
	require.True(t, ok)
	assert.Equal(t, "token-b", token)

	var count int64
	require.NoError(t, db.Model(&AccessTokenModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
