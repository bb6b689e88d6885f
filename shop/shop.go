// Package shop sells coin-priced items. Mercenaries reduce the buyer's
// hour goal for the current week; their price climbs with each purchase.
package shop

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hackclub/siege/calendar"
	"github.com/hackclub/siege/ledger"
	"github.com/hackclub/siege/models"
)

// ItemMercenary trades coins for one hour off the week's goal.
const ItemMercenary = "Mercenary"

const (
	mercenaryBasePrice = 30
	mercenaryWeeklyCap = 10
)

var (
	// ErrUnknownItem refuses purchases of items not in the catalog.
	ErrUnknownItem = errors.New("shop: unknown item")
	// ErrMercenaryLimit caps mercenary purchases per week.
	ErrMercenaryLimit = errors.New("shop: weekly mercenary limit reached")
	// ErrCalendarUnconfigured marks purchases before the event start is set.
	ErrCalendarUnconfigured = errors.New("shop: event start date not configured")
)

// Shop owns the purchase flow.
type Shop struct {
	db     *gorm.DB
	cal    *calendar.Calendar
	logger *slog.Logger
	now    func() time.Time
}

// New builds a shop.
func New(db *gorm.DB, cal *calendar.Calendar, logger *slog.Logger) *Shop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shop{db: db, cal: cal, logger: logger, now: time.Now}
}

// MercenaryPrice quotes the next mercenary for a user: the base price plus
// one coin per mercenary already bought this week.
func (s *Shop) MercenaryPrice(ctx context.Context, userID uuid.UUID) (price int64, purchased int64, err error) {
	week := s.cal.WeekNumber(s.now().UTC())
	purchased, err = s.weeklyCount(ctx, s.db, userID, ItemMercenary, week)
	if err != nil {
		return 0, 0, err
	}
	return mercenaryBasePrice + purchased, purchased, nil
}

func (s *Shop) weeklyCount(ctx context.Context, db *gorm.DB, userID uuid.UUID, item string, week int) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&models.ShopPurchase{}).
		Where("user_id = ? AND item_name = ? AND week = ?", userID, item, week).
		Count(&count).Error
	return count, err
}

// BuyMercenary debits the current price, records the purchase, and bumps
// the buyer's mercenary offset for the week. All three land atomically.
func (s *Shop) BuyMercenary(ctx context.Context, user *models.User) (*models.ShopPurchase, error) {
	if !s.cal.Configured() {
		return nil, ErrCalendarUnconfigured
	}
	week := s.cal.WeekNumber(s.now().UTC())

	purchase := models.ShopPurchase{
		ID:       uuid.New(),
		UserID:   user.ID,
		ItemName: ItemMercenary,
		Week:     week,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := s.weeklyCount(ctx, tx, user.ID, ItemMercenary, week)
		if err != nil {
			return err
		}
		if count >= mercenaryWeeklyCap {
			return ErrMercenaryLimit
		}
		purchase.CoinsSpent = mercenaryBasePrice + count

		if err := tx.Create(&purchase).Error; err != nil {
			return err
		}
		if _, err := ledger.ApplyTx(tx, ledger.Mutation{
			UserID:    user.ID,
			Action:    "shop_purchase",
			ActorID:   user.ID,
			SourceRef: "purchase:" + purchase.ID.String(),
			Delta:     -purchase.CoinsSpent,
			Details:   map[string]string{"item": ItemMercenary},
		}); err != nil {
			return err
		}

		var uw models.UserWeek
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&uw, "user_id = ? AND week = ?", user.ID, week).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			uw = models.UserWeek{ID: uuid.New(), UserID: user.ID, Week: week, MercenaryOffset: 1}
			return tx.Create(&uw).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&models.UserWeek{}).Where("id = ?", uw.ID).
			Update("mercenary_offset", uw.MercenaryOffset+1).Error
	})
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// ProvisionWeeks creates UserWeek rows for weeks 1 through lastWeek at
// registration so goal offsets always have a row to land on.
func ProvisionWeeks(db *gorm.DB, userID uuid.UUID, lastWeek int) error {
	weeks := make([]models.UserWeek, 0, lastWeek)
	for w := 1; w <= lastWeek; w++ {
		weeks = append(weeks, models.UserWeek{ID: uuid.New(), UserID: userID, Week: w})
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&weeks).Error
}
