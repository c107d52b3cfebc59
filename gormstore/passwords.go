package gormstore

import (
	"context"
	"time"

	goIdP "github.com/MrEthical07/goIdP"
	"gorm.io/gorm"
)

// PasswordStore implements [goIdP.PasswordCredentialStore].
type PasswordStore struct {
	db *gorm.DB
}

func NewPasswordStore(db *gorm.DB) *PasswordStore {
	return &PasswordStore{db: db}
}

var _ goIdP.PasswordCredentialStore = (*PasswordStore)(nil)

func (s *PasswordStore) FindByAccount(ctx context.Context, repositoryID, accountID string) ([]goIdP.PasswordCredential, error) {
	return s.list(ctx, "repository_id = ? AND account_id = ?", repositoryID, accountID)
}

func (s *PasswordStore) FindByUser(ctx context.Context, repositoryID, userID string) ([]goIdP.PasswordCredential, error) {
	return s.list(ctx, "repository_id = ? AND user_id = ?", repositoryID, userID)
}

func (s *PasswordStore) list(ctx context.Context, query string, args ...any) ([]goIdP.PasswordCredential, error) {
	var rows []passwordRow
	err := s.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]goIdP.PasswordCredential, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *PasswordStore) FindByID(ctx context.Context, repositoryID, id string) (goIdP.PasswordCredential, error) {
	var row passwordRow
	err := s.db.WithContext(ctx).
		Where("repository_id = ? AND id = ?", repositoryID, id).
		Take(&row).Error
	if err != nil {
		return goIdP.PasswordCredential{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *PasswordStore) FindByResetKey(ctx context.Context, repositoryID, resetKeyHash string) (goIdP.PasswordCredential, error) {
	if resetKeyHash == "" {
		return goIdP.PasswordCredential{}, goIdP.ErrRecordNotFound
	}
	var row passwordRow
	err := s.db.WithContext(ctx).
		Where("repository_id = ? AND reset_key_hash = ?", repositoryID, resetKeyHash).
		Take(&row).Error
	if err != nil {
		return goIdP.PasswordCredential{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *PasswordStore) Add(ctx context.Context, credential goIdP.PasswordCredential) (goIdP.PasswordCredential, error) {
	if credential.Version == 0 {
		credential.Version = 1
	}
	row := passwordToRow(credential)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return goIdP.PasswordCredential{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *PasswordStore) Update(ctx context.Context, credential goIdP.PasswordCredential, expectedVersion uint64) (goIdP.PasswordCredential, error) {
	row := passwordToRow(credential)
	row.Version = expectedVersion + 1

	res := s.db.WithContext(ctx).Model(&passwordRow{}).
		Where("repository_id = ? AND id = ? AND version = ?", credential.RepositoryID, credential.ID, expectedVersion).
		Updates(map[string]any{
			"password_hash":          row.PasswordHash,
			"status":                 row.Status,
			"change_on_first_access": row.ChangeOnFirstAccess,
			"expiration_date":        row.ExpirationDate,
			"reset_key_hash":         row.ResetKeyHash,
			"reset_deadline":         row.ResetDeadline,
			"version":                row.Version,
			"updated_at":             row.UpdatedAt,
		})
	if res.Error != nil {
		return goIdP.PasswordCredential{}, mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.FindByID(ctx, credential.RepositoryID, credential.ID); err != nil {
			return goIdP.PasswordCredential{}, err
		}
		return goIdP.PasswordCredential{}, goIdP.ErrVersionConflict
	}
	return s.FindByID(ctx, credential.RepositoryID, credential.ID)
}

// RebindUser rewrites user_id on every credential of the account and bumps
// their versions, so an update racing with the link retries on fresh rows.
func (s *PasswordStore) RebindUser(ctx context.Context, repositoryID, accountID, userID string) error {
	err := s.db.WithContext(ctx).Model(&passwordRow{}).
		Where("repository_id = ? AND account_id = ? AND user_id <> ?", repositoryID, accountID, userID).
		Updates(map[string]any{
			"user_id":    userID,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		}).Error
	return mapError(err)
}

func (s *PasswordStore) DeleteByAccount(ctx context.Context, repositoryID, accountID string) error {
	err := s.db.WithContext(ctx).
		Where("repository_id = ? AND account_id = ?", repositoryID, accountID).
		Delete(&passwordRow{}).Error
	return mapError(err)
}
