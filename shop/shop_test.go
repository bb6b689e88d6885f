package shop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hackclub/siege/calendar"
	"github.com/hackclub/siege/ledger"
	"github.com/hackclub/siege/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newShop(t *testing.T, db *gorm.DB) *Shop {
	t.Helper()
	cal, err := calendar.New("2025-08-04")
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	s := New(db, cal, nil)
	s.now = func() time.Time { return time.Date(2025, 8, 12, 12, 0, 0, 0, time.UTC) }
	return s
}

func seedUser(t *testing.T, db *gorm.DB, coins int64) models.User {
	t.Helper()
	user := models.User{
		ID:      uuid.New(),
		SlackID: "U" + uuid.NewString()[:8],
		Rank:    models.RankUser,
		Status:  models.UserWorking,
		Coins:   coins,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestBuyMercenaryDebitsAndOffsets(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, 100)
	if err := ProvisionWeeks(db, user.ID, 14); err != nil {
		t.Fatalf("provision: %v", err)
	}
	s := newShop(t, db)

	purchase, err := s.BuyMercenary(context.Background(), &user)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if purchase.CoinsSpent != 30 || purchase.Week != 2 {
		t.Fatalf("unexpected purchase %+v", purchase)
	}

	var got models.User
	db.First(&got, "id = ?", user.ID)
	if got.Coins != 70 {
		t.Fatalf("expected 70 coins, got %d", got.Coins)
	}

	var uw models.UserWeek
	db.First(&uw, "user_id = ? AND week = ?", user.ID, 2)
	if uw.MercenaryOffset != 1 {
		t.Fatalf("expected mercenary offset 1, got %d", uw.MercenaryOffset)
	}
	if uw.EffectiveHourGoal() != 9 {
		t.Fatalf("expected goal 9 after one mercenary, got %d", uw.EffectiveHourGoal())
	}
}

func TestMercenaryPriceClimbsPerPurchase(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, 1000)
	s := newShop(t, db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		price, count, err := s.MercenaryPrice(ctx, user.ID)
		if err != nil {
			t.Fatalf("price: %v", err)
		}
		if count != int64(i) || price != int64(30+i) {
			t.Fatalf("expected price %d at count %d, got %d/%d", 30+i, i, price, count)
		}
		purchase, err := s.BuyMercenary(ctx, &user)
		if err != nil {
			t.Fatalf("buy %d: %v", i, err)
		}
		if purchase.CoinsSpent != int64(30+i) {
			t.Fatalf("expected spend %d, got %d", 30+i, purchase.CoinsSpent)
		}
	}
}

func TestBuyMercenaryWeeklyCap(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, 10000)
	s := newShop(t, db)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := s.BuyMercenary(ctx, &user); err != nil {
			t.Fatalf("buy %d: %v", i, err)
		}
	}
	if _, err := s.BuyMercenary(ctx, &user); !errors.Is(err, ErrMercenaryLimit) {
		t.Fatalf("expected ErrMercenaryLimit, got %v", err)
	}

	var uw models.UserWeek
	db.First(&uw, "user_id = ? AND week = ?", user.ID, 2)
	if uw.MercenaryOffset != 10 {
		t.Fatalf("expected offset 10, got %d", uw.MercenaryOffset)
	}
	if uw.EffectiveHourGoal() != 0 {
		t.Fatalf("goal must floor at zero, got %d", uw.EffectiveHourGoal())
	}
}

func TestBuyMercenaryInsufficientFunds(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, 10)
	s := newShop(t, db)

	_, err := s.BuyMercenary(context.Background(), &user)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	var purchases int64
	db.Model(&models.ShopPurchase{}).Count(&purchases)
	if purchases != 0 {
		t.Fatalf("refused purchase must roll back, found %d", purchases)
	}
}

func TestProvisionWeeksIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, 0)

	if err := ProvisionWeeks(db, user.ID, 14); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := ProvisionWeeks(db, user.ID, 14); err != nil {
		t.Fatalf("second provision: %v", err)
	}
	var count int64
	db.Model(&models.UserWeek{}).Where("user_id = ?", user.ID).Count(&count)
	if count != 14 {
		t.Fatalf("expected 14 rows, got %d", count)
	}

	var week5 models.UserWeek
	db.First(&week5, "user_id = ? AND week = ?", user.ID, 5)
	if week5.EffectiveHourGoal() != 9 {
		t.Fatalf("week 5 base goal must be 9, got %d", week5.EffectiveHourGoal())
	}
}
