package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	KeyAPIKey  = "api_key"
	KeyBaseURL = "base_url"
	KeyModel   = "model"
)

// Setting is one key/value row. Values are stored as text.
type Setting struct {
	Key       string    `gorm:"primaryKey;type:varchar(64)" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }

// IsSecret reports whether a key holds a credential.
func IsSecret(key string) bool {
	return key == KeyAPIKey
}

type Store struct {
	db     *gorm.DB
	cipher *Cipher
	logger *slog.Logger
}

// NewStore creates a settings store. A nil cipher stores secrets in plaintext.
func NewStore(db *gorm.DB, c *Cipher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, cipher: c, logger: logger}
}

// Get returns the stored value for key, or def when the key is absent or
// cannot be read.
func (s *Store) Get(ctx context.Context, key, def string) string {
	var row Setting
	err := s.db.WithContext(ctx).Where(&Setting{Key: key}).First(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("settings read failed", "key", key, "error", err)
		}
		return def
	}

	if !IsSealed(row.Value) {
		return row.Value
	}
	if s.cipher == nil {
		s.logger.Warn("sealed setting without secret configured", "key", key)
		return def
	}
	v, err := s.cipher.Open(row.Value)
	if err != nil {
		s.logger.Warn("settings decrypt failed", "key", key, "error", err)
		return def
	}
	return v
}

// Set upserts key with value. Secret keys are sealed when a cipher is configured.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("settings: empty key")
	}

	stored := value
	if IsSecret(key) && s.cipher != nil && value != "" {
		sealed, err := s.cipher.Seal(value)
		if err != nil {
			return fmt.Errorf("seal %s: %w", key, err)
		}
		stored = sealed
	}

	row := Setting{Key: key, Value: stored, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

// Mask hides all but the last four characters of a secret value.
func Mask(v string) string {
	if v == "" {
		return ""
	}
	r := []rune(v)
	if len(r) <= 4 {
		return "****"
	}
	return "****" + string(r[len(r)-4:])
}
