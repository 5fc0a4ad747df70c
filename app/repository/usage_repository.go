package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/SyncFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type usageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

// AddCalls increments the stored counters of one period by the given deltas.
func (r *usageRepository) AddCalls(ctx context.Context, period string, deltas map[uint]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for userID, delta := range deltas {
			if userID == 0 || delta == 0 {
				continue
			}
			row := models.APIUsage{UserID: userID, Period: period, CallCount: delta}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}, {Name: "period"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"call_count": gorm.Expr("api_usage.call_count + ?", delta),
					"updated_at": time.Now(),
				}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *usageRepository) Get(ctx context.Context, userID uint, period string) (int64, error) {
	var row models.APIUsage
	err := r.db.WithContext(ctx).Where("user_id = ? AND period = ?", userID, period).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.CallCount, nil
}
