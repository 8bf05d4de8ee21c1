package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"gorm.io/gorm"
)

type OtpGormRepository struct {
	db *gorm.DB
}

func NewOtpGormRepository(db *gorm.DB) *OtpGormRepository {
	return &OtpGormRepository{db: db}
}

func (r *OtpGormRepository) Create(ctx context.Context, c model.OtpChallenge) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&c).Error; err != nil {
		return 0, err
	}
	return c.ID, nil
}

func (r *OtpGormRepository) FindLiveByOrderID(ctx context.Context, orderID int64) (model.OtpChallenge, error) {
	var c model.OtpChallenge
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND consumed = ?", orderID, false).
		Order("id desc").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.OtpChallenge{}, repo.ErrNotFound
	}
	if err != nil {
		return model.OtpChallenge{}, err
	}
	return c, nil
}

// 再発行前に未消費のコードをまとめて無効化する
func (r *OtpGormRepository) InvalidateByOrderID(ctx context.Context, orderID int64) error {
	return r.db.WithContext(ctx).Model(&model.OtpChallenge{}).
		Where("order_id = ? AND consumed = ?", orderID, false).
		Update("consumed", true).Error
}

func (r *OtpGormRepository) MarkConsumed(ctx context.Context, challengeID int64) error {
	res := r.db.WithContext(ctx).Model(&model.OtpChallenge{}).
		Where("id = ?", challengeID).
		Update("consumed", true)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
