package gormstore

import (
	"context"
	"time"

	goIdP "github.com/MrEthical07/goIdP"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResourceIndex implements [goIdP.ResourceIndex] as a plain table.
type ResourceIndex struct {
	db *gorm.DB
}

func NewResourceIndex(db *gorm.DB) *ResourceIndex {
	return &ResourceIndex{db: db}
}

var _ goIdP.ResourceIndex = (*ResourceIndex)(nil)

// Put inserts r, replacing any entry with the same UUID.
func (s *ResourceIndex) Put(ctx context.Context, r goIdP.Resource) error {
	row := resourceRow{
		UUID:         r.UUID,
		Realm:        r.Realm,
		Authority:    r.Authority,
		Provider:     r.Provider,
		RepositoryID: r.RepositoryID,
		ResourceID:   r.ResourceID,
		UserID:       r.UserID,
		CreatedAt:    time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	return mapError(err)
}

func (s *ResourceIndex) Remove(ctx context.Context, uuid string) error {
	err := s.db.WithContext(ctx).Where("uuid = ?", uuid).Delete(&resourceRow{}).Error
	return mapError(err)
}

// FindByUser lists the resources indexed for userID in realm.
func (s *ResourceIndex) FindByUser(ctx context.Context, realm, userID string) ([]goIdP.Resource, error) {
	var rows []resourceRow
	err := s.db.WithContext(ctx).
		Where("realm = ? AND user_id = ?", realm, userID).
		Order("created_at, uuid").
		Find(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]goIdP.Resource, 0, len(rows))
	for _, r := range rows {
		out = append(out, goIdP.Resource{
			UUID:         r.UUID,
			Realm:        r.Realm,
			Authority:    r.Authority,
			Provider:     r.Provider,
			RepositoryID: r.RepositoryID,
			ResourceID:   r.ResourceID,
			UserID:       r.UserID,
		})
	}
	return out, nil
}
