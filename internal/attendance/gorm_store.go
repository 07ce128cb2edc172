package attendance

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps records in the attendance_records table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, sessionID, studentID string) (Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND student_id = ?", sessionID, studentID).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (s *GormStore) Upsert(ctx context.Context, rec Record) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "student_id"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
}

func (s *GormStore) List(ctx context.Context, sessionID string) ([]Record, error) {
	var out []Record
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("student_id").
		Find(&out).Error
	return out, err
}
