package infrastructure

import (
	"time"
)

// ProfileEventModel 对应 risk_profile_events 表，自增主键即事件序号
type ProfileEventModel struct {
	ID                int64     `gorm:"primaryKey;autoIncrement;index:idx_email_seq,priority:2"`
	EventID           string    `gorm:"size:36;uniqueIndex"`
	Email             string    `gorm:"size:255;not null;index:idx_email_seq,priority:1"`
	Type              string    `gorm:"size:32;not null"`
	OrderID           string    `gorm:"size:64"`
	LotID             string    `gorm:"size:64"`
	Quantity          int
	DeviceFingerprint string    `gorm:"size:128;index"`
	Reason            string    `gorm:"size:255"`
	OccurredAt        time.Time `gorm:"not null"`
	CreatedAt         time.Time
}

// TableName 指定 GORM 应该使用的表名
func (ProfileEventModel) TableName() string {
	return "risk_profile_events"
}

// AssessmentModel 对应 risk_assessments 表
type AssessmentModel struct {
	ID                uint      `gorm:"primaryKey"`
	AssessmentID      string    `gorm:"size:36;uniqueIndex"`
	Email             string    `gorm:"size:255;not null;index:idx_assessment_email_time,priority:1"`
	LotID             string    `gorm:"size:64"`
	Quantity          int
	DeviceFingerprint string `gorm:"size:128"`
	Allowed           bool
	Decision          string    `gorm:"size:16;index"`
	Flags             string    `gorm:"size:512"` // 逗号分隔
	Score             int
	Tier              string    `gorm:"size:16"`
	EvaluatedAt       time.Time `gorm:"not null;index:idx_assessment_email_time,priority:2"`
}

// TableName 指定 GORM 应该使用的表名
func (AssessmentModel) TableName() string {
	return "risk_assessments"
}
