// Package catalog resolves card identifiers coming from the card
// identification pipeline. Its answers are trusted as ground truth.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/duel-engine/internal/engine"
)

var ErrUnknownCard = errors.New("unknown card")

type Descriptor struct {
	CardID   string
	Category engine.Category
	// OwnerUserID is empty for cards not bound to a player.
	OwnerUserID string
}

type Catalog interface {
	Lookup(ctx context.Context, cardID string) (Descriptor, error)
}

// Static serves a fixed set of cards.
type Static map[string]Descriptor

func (s Static) Lookup(_ context.Context, cardID string) (Descriptor, error) {
	d, ok := s[cardID]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownCard, cardID)
	}
	return d, nil
}

type cardRow struct {
	CardID      string `gorm:"column:card_id;primaryKey"`
	Category    string `gorm:"column:category"`
	OwnerUserID string `gorm:"column:owner_user_id"`
}

func (cardRow) TableName() string { return "catalog_cards" }

// DB reads card registrations from Postgres. It never writes.
type DB struct {
	db *gorm.DB
}

func Open(dsn string) (*DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	return &DB{db: db}, nil
}

func NewDB(db *gorm.DB) *DB { return &DB{db: db} }

func (c *DB) Lookup(ctx context.Context, cardID string) (Descriptor, error) {
	var row cardRow
	if err := c.db.WithContext(ctx).Where("card_id = ?", cardID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownCard, cardID)
		}
		return Descriptor{}, fmt.Errorf("lookup card %s: %w", cardID, err)
	}
	cat, err := engine.ParseCategory(row.Category)
	if err != nil {
		return Descriptor{}, fmt.Errorf("card %s: %w", cardID, err)
	}
	return Descriptor{CardID: row.CardID, Category: cat, OwnerUserID: row.OwnerUserID}, nil
}

func (c *DB) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
