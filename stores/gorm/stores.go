//go:build !wasm
// +build !wasm

package gorm

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ws "github.com/panyam/websession"
)

// AccessTokenModel is the GORM model for stored access credentials
type AccessTokenModel struct {
	Profile     string    `gorm:"primaryKey;size:128"`
	AccessToken string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (AccessTokenModel) TableName() string {
	return "access_tokens"
}

// AutoMigrate runs database migrations for the token table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&AccessTokenModel{})
}

// TokenStore implements ws.TokenStore using GORM
type TokenStore struct {
	db      *gorm.DB
	profile string
}

var _ ws.TokenStore = (*TokenStore)(nil)

func NewTokenStore(db *gorm.DB, profile string) *TokenStore {
	if profile == "" {
		profile = ws.DefaultProfile
	}
	return &TokenStore{db: db, profile: profile}
}

func (s *TokenStore) Get() (string, bool) {
	var model AccessTokenModel
	err := s.db.First(&model, "profile = ?", s.profile).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error().Err(err).Str("profile", s.profile).Msg("failed to read access token")
		}
		return "", false
	}
	return model.AccessToken, model.AccessToken != ""
}

func (s *TokenStore) Set(token string) {
	model := &AccessTokenModel{Profile: s.profile, AccessToken: token}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		log.Error().Err(err).Str("profile", s.profile).Msg("failed to store access token")
	}
}

func (s *TokenStore) Clear() {
	if err := s.db.Delete(&AccessTokenModel{}, "profile = ?", s.profile).Error; err != nil {
		log.Error().Err(err).Str("profile", s.profile).Msg("failed to delete access token")
	}
}
