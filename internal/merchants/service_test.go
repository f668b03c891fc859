package merchants

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupMerchantsTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:merchants_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.MerchantProfile{}))
	return db
}

func TestGetFeeRate(t *testing.T) {
	db := setupMerchantsTestDB(t)
	withRate := uuid.New()
	withoutRate := uuid.New()
	require.NoError(t, db.Create(&models.MerchantProfile{
		MerchantID: withRate,
		Name:       "Noodle Bar",
		FeeRate:    decimal.NewNullDecimal(decimal.RequireFromString("0.05")),
	}).Error)
	require.NoError(t, db.Create(&models.MerchantProfile{
		MerchantID: withoutRate,
		Name:       "Tea House",
	}).Error)

	svc, err := NewService(NewRepository(db), decimal.RequireFromString("0.006"))
	require.NoError(t, err)

	rate, err := svc.GetFeeRate(context.Background(), withRate)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.05")), rate.String())

	rate, err = svc.GetFeeRate(context.Background(), withoutRate)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.006")), rate.String())

	rate, err = svc.GetFeeRate(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.006")), rate.String())
}

func TestGetPayoutAccount(t *testing.T) {
	db := setupMerchantsTestDB(t)
	configured := uuid.New()
	missing := uuid.New()
	require.NoError(t, db.Create(&models.MerchantProfile{MerchantID: configured, Name: "A", PayoutAccount: "1900000109"}).Error)
	require.NoError(t, db.Create(&models.MerchantProfile{MerchantID: missing, Name: "B"}).Error)

	svc, err := NewService(NewRepository(db), decimal.Zero)
	require.NoError(t, err)

	account, err := svc.GetPayoutAccount(context.Background(), configured)
	require.NoError(t, err)
	assert.Equal(t, "1900000109", account)

	_, err = svc.GetPayoutAccount(context.Background(), missing)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.GetPayoutAccount(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

type failingRepo struct{}

func (failingRepo) FindProfile(context.Context, uuid.UUID) (*models.MerchantProfile, error) {
	return nil, errors.New("connection reset")
}

func TestGetFeeRateLookupFailure(t *testing.T) {
	svc, err := NewService(failingRepo{}, decimal.Zero)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.GetFeeRate(context.Background(), uuid.New()); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestNewServiceRejectsBadDefaultRate(t *testing.T) {
	if _, err := NewService(failingRepo{}, decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected error for rate of 1")
	}
}
