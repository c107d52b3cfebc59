package gormstore

import (
	"context"
	"time"

	goIdP "github.com/MrEthical07/goIdP"
	"gorm.io/gorm"
)

// WebAuthnStore implements [goIdP.WebAuthnCredentialStore]. The unique index
// on (repository_id, user_handle, credential_id) backs the duplicate check.
type WebAuthnStore struct {
	db *gorm.DB
}

func NewWebAuthnStore(db *gorm.DB) *WebAuthnStore {
	return &WebAuthnStore{db: db}
}

var _ goIdP.WebAuthnCredentialStore = (*WebAuthnStore)(nil)

func (s *WebAuthnStore) FindByID(ctx context.Context, repositoryID, id string) (goIdP.WebAuthnCredential, error) {
	return s.take(ctx, "repository_id = ? AND id = ?", repositoryID, id)
}

func (s *WebAuthnStore) FindByUser(ctx context.Context, repositoryID, userID string) ([]goIdP.WebAuthnCredential, error) {
	return s.list(ctx, "repository_id = ? AND user_id = ?", repositoryID, userID)
}

func (s *WebAuthnStore) FindByUserHandle(ctx context.Context, repositoryID string, userHandle []byte) ([]goIdP.WebAuthnCredential, error) {
	return s.list(ctx, "repository_id = ? AND user_handle = ?", repositoryID, userHandle)
}

func (s *WebAuthnStore) FindByUserHandleAndCredentialID(ctx context.Context, repositoryID string, userHandle []byte, credentialID string) (goIdP.WebAuthnCredential, error) {
	return s.take(ctx, "repository_id = ? AND user_handle = ? AND credential_id = ?", repositoryID, userHandle, credentialID)
}

func (s *WebAuthnStore) Add(ctx context.Context, credential goIdP.WebAuthnCredential) (goIdP.WebAuthnCredential, error) {
	row, err := webAuthnToRow(credential)
	if err != nil {
		return goIdP.WebAuthnCredential{}, mapError(err)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return goIdP.WebAuthnCredential{}, mapError(err)
	}
	return row.toDomain(), nil
}

// UpdateSignatureCount moves the counter from expected to next in one
// conditional statement.
func (s *WebAuthnStore) UpdateSignatureCount(ctx context.Context, repositoryID, id string, expected, next int64, usedAt time.Time) error {
	usedAt = usedAt.UTC()
	res := s.db.WithContext(ctx).Model(&webAuthnRow{}).
		Where("repository_id = ? AND id = ? AND signature_count = ?", repositoryID, id, expected).
		Updates(map[string]any{
			"signature_count": next,
			"last_used_at":    usedAt,
			"updated_at":      usedAt,
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.FindByID(ctx, repositoryID, id); err != nil {
			return err
		}
		return goIdP.ErrCounterConflict
	}
	return nil
}

func (s *WebAuthnStore) UpdateDisplayName(ctx context.Context, repositoryID, id, displayName string) (goIdP.WebAuthnCredential, error) {
	res := s.db.WithContext(ctx).Model(&webAuthnRow{}).
		Where("repository_id = ? AND id = ?", repositoryID, id).
		Updates(map[string]any{
			"display_name": displayName,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return goIdP.WebAuthnCredential{}, mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return goIdP.WebAuthnCredential{}, goIdP.ErrRecordNotFound
	}
	return s.FindByID(ctx, repositoryID, id)
}

func (s *WebAuthnStore) RebindUser(ctx context.Context, repositoryID, accountID, userID string) error {
	err := s.db.WithContext(ctx).Model(&webAuthnRow{}).
		Where("repository_id = ? AND account_id = ? AND user_id <> ?", repositoryID, accountID, userID).
		Updates(map[string]any{
			"user_id":    userID,
			"updated_at": time.Now().UTC(),
		}).Error
	return mapError(err)
}

func (s *WebAuthnStore) Delete(ctx context.Context, repositoryID, id string) error {
	err := s.db.WithContext(ctx).
		Where("repository_id = ? AND id = ?", repositoryID, id).
		Delete(&webAuthnRow{}).Error
	return mapError(err)
}

func (s *WebAuthnStore) DeleteByUser(ctx context.Context, repositoryID, userID string) error {
	err := s.db.WithContext(ctx).
		Where("repository_id = ? AND user_id = ?", repositoryID, userID).
		Delete(&webAuthnRow{}).Error
	return mapError(err)
}

func (s *WebAuthnStore) take(ctx context.Context, query string, args ...any) (goIdP.WebAuthnCredential, error) {
	var row webAuthnRow
	if err := s.db.WithContext(ctx).Where(query, args...).Take(&row).Error; err != nil {
		return goIdP.WebAuthnCredential{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *WebAuthnStore) list(ctx context.Context, query string, args ...any) ([]goIdP.WebAuthnCredential, error) {
	var rows []webAuthnRow
	if err := s.db.WithContext(ctx).Where(query, args...).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]goIdP.WebAuthnCredential, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
