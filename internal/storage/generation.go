package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

type Generation struct {
	ID        string `gorm:"primarykey;size:32"`
	CreatedAt time.Time
	UpdatedAt time.Time

	UserID string `gorm:"index;not null;default:''"`
	Prompt string `gorm:"not null;default:''"`
	Tags   string `gorm:"not null;default:''"`
	Lyrics *string

	// AudioURL is what clients play: the archive copy once there is one,
	// otherwise the upstream URL.
	AudioURL    string `gorm:"not null;default:''"`
	UpstreamURL string `gorm:"not null;default:''"`
	ArchiveURL  string `gorm:"not null;default:''"`

	Status       Status `gorm:"index;not null;default:'PENDING'"`
	ErrorMessage string `gorm:"not null;default:''"`
	CompletedAt  *time.Time
}

func (s *Store) GetGeneration(ctx context.Context, id string) (*Generation, error) {
	var v Generation
	if err := s.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get Generation %s: %w", id, err)
	}
	return &v, nil
}

// GetUserGeneration returns the generation only if userID owns it.
func (s *Store) GetUserGeneration(ctx context.Context, userID, id string) (*Generation, error) {
	var v Generation
	if err := s.db.WithContext(ctx).First(&v, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get Generation %s: %w", id, err)
	}
	return &v, nil
}

func (s *Store) SetGeneration(ctx context.Context, v *Generation) error {
	if err := s.db.WithContext(ctx).Save(v).Error; err != nil {
		return fmt.Errorf("storage: failed to set Generation %s: %w", v.ID, err)
	}
	return nil
}

// SetArchiveURL records the durable copy and makes it the playback URL.
func (s *Store) SetArchiveURL(ctx context.Context, id, archiveURL string) error {
	res := s.db.WithContext(ctx).Model(&Generation{}).Where("id = ?", id).Updates(map[string]any{
		"archive_url": archiveURL,
		"audio_url":   archiveURL,
	})
	if res.Error != nil {
		return fmt.Errorf("storage: failed to set archive url of Generation %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGenerations returns userID's generations, newest first.
func (s *Store) ListGenerations(ctx context.Context, userID string, limit, offset int) ([]*Generation, error) {
	if limit < 1 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	vs := []*Generation{}
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit)
	if err := q.Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list Generations: %w", err)
	}
	return vs, nil
}
