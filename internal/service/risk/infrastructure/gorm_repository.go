package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"riskgate/internal/service/risk/domain"
)

const dependencyName = "risk store"

// GormEventLog 是 domain.EventLog 的 GORM 实现
type GormEventLog struct {
	db *gorm.DB
}

func NewGormEventLog(db *gorm.DB) *GormEventLog {
	return &GormEventLog{db: db}
}

// Append 插入事件，自增主键回填为 Seq
func (r *GormEventLog) Append(ctx context.Context, event *domain.ProfileEvent) error {
	model := toEventModel(event)
	model.ID = 0
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domain.NewDependencyError(dependencyName, errors.Wrapf(err, "append %s event for %s", event.Type, event.Email))
	}
	event.Seq = model.ID
	return nil
}

// EventsSince 按序号升序返回 afterSeq 之后的事件
func (r *GormEventLog) EventsSince(ctx context.Context, email string, afterSeq int64) ([]*domain.ProfileEvent, error) {
	var models []ProfileEventModel
	err := r.db.WithContext(ctx).
		Where("email = ? AND id > ?", email, afterSeq).
		Order("id asc").
		Find(&models).Error
	if err != nil {
		return nil, domain.NewDependencyError(dependencyName, errors.Wrapf(err, "load events for %s", email))
	}

	events := make([]*domain.ProfileEvent, len(models))
	for i := range models {
		events[i] = toDomainEvent(&models[i])
	}
	return events, nil
}

// CountCustomersByDevice 统计在该设备上下过单的不同邮箱数
func (r *GormEventLog) CountCustomersByDevice(ctx context.Context, fingerprint string) (int, error) {
	if fingerprint == "" {
		return 0, nil
	}
	var n int64
	err := r.db.WithContext(ctx).
		Model(&ProfileEventModel{}).
		Where("device_fingerprint = ? AND type = ?", fingerprint, string(domain.EventOrderPlaced)).
		Distinct("email").
		Count(&n).Error
	if err != nil {
		return 0, domain.NewDependencyError(dependencyName, errors.Wrapf(err, "count customers for device %s", fingerprint))
	}
	return int(n), nil
}

// GormAssessmentRepository 是 domain.AssessmentRepository 的 GORM 实现
type GormAssessmentRepository struct {
	db *gorm.DB
}

func NewGormAssessmentRepository(db *gorm.DB) *GormAssessmentRepository {
	return &GormAssessmentRepository{db: db}
}

func (r *GormAssessmentRepository) Record(ctx context.Context, a *domain.Assessment) error {
	if err := r.db.WithContext(ctx).Create(toAssessmentModel(a)).Error; err != nil {
		return domain.NewDependencyError(dependencyName, errors.Wrapf(err, "record assessment %s", a.ID))
	}
	return nil
}

func (r *GormAssessmentRepository) ListByEmail(ctx context.Context, email string, limit int) ([]*domain.Assessment, error) {
	var models []AssessmentModel
	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		Order("evaluated_at desc, id desc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, domain.NewDependencyError(dependencyName, errors.Wrapf(err, "list assessments for %s", email))
	}

	out := make([]*domain.Assessment, len(models))
	for i := range models {
		out[i] = toDomainAssessment(&models[i])
	}
	return out, nil
}

// AutoMigrate 创建或更新表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ProfileEventModel{}, &AssessmentModel{})
}
