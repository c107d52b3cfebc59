package gormstore

import (
	"context"

	goIdP "github.com/MrEthical07/goIdP"
	"gorm.io/gorm"
)

// AccountStore implements [goIdP.AccountStore].
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

var _ goIdP.AccountStore = (*AccountStore)(nil)

func (s *AccountStore) FindByID(ctx context.Context, repositoryID, accountID string) (goIdP.Account, error) {
	var row accountRow
	err := s.db.WithContext(ctx).
		Where("repository_id = ? AND account_id = ?", repositoryID, accountID).
		Take(&row).Error
	if err != nil {
		return goIdP.Account{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *AccountStore) FindByUser(ctx context.Context, repositoryID, userID string) ([]goIdP.Account, error) {
	return s.list(ctx, "repository_id = ? AND user_id = ?", repositoryID, userID)
}

func (s *AccountStore) FindByEmail(ctx context.Context, repositoryID, email string) ([]goIdP.Account, error) {
	return s.list(ctx, "repository_id = ? AND email = ?", repositoryID, email)
}

func (s *AccountStore) FindByUserHandle(ctx context.Context, repositoryID string, userHandle []byte) (goIdP.Account, error) {
	if len(userHandle) == 0 {
		return goIdP.Account{}, goIdP.ErrRecordNotFound
	}
	var row accountRow
	err := s.db.WithContext(ctx).
		Where("repository_id = ? AND user_handle = ?", repositoryID, userHandle).
		Take(&row).Error
	if err != nil {
		return goIdP.Account{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *AccountStore) Add(ctx context.Context, account goIdP.Account) (goIdP.Account, error) {
	if account.Version == 0 {
		account.Version = 1
	}
	row := accountToRow(account)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return goIdP.Account{}, mapError(err)
	}
	return row.toDomain(), nil
}

// Update writes account when the stored version still equals
// expectedVersion and bumps the version.
func (s *AccountStore) Update(ctx context.Context, account goIdP.Account, expectedVersion uint64) (goIdP.Account, error) {
	row := accountToRow(account)
	row.Version = expectedVersion + 1

	res := s.db.WithContext(ctx).Model(&accountRow{}).
		Where("repository_id = ? AND account_id = ? AND version = ?", account.RepositoryID, account.AccountID, expectedVersion).
		Updates(map[string]any{
			"user_id":        row.UserID,
			"username":       row.Username,
			"user_handle":    row.UserHandle,
			"status":         row.Status,
			"email":          row.Email,
			"email_verified": row.EmailVerified,
			"version":        row.Version,
			"updated_at":     row.UpdatedAt,
		})
	if res.Error != nil {
		return goIdP.Account{}, mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return goIdP.Account{}, s.missOrConflict(ctx, account.RepositoryID, account.AccountID)
	}
	return s.FindByID(ctx, account.RepositoryID, account.AccountID)
}

func (s *AccountStore) Delete(ctx context.Context, repositoryID, accountID string) error {
	err := s.db.WithContext(ctx).
		Where("repository_id = ? AND account_id = ?", repositoryID, accountID).
		Delete(&accountRow{}).Error
	return mapError(err)
}

func (s *AccountStore) list(ctx context.Context, query string, args ...any) ([]goIdP.Account, error) {
	var rows []accountRow
	if err := s.db.WithContext(ctx).Where(query, args...).Order("created_at, account_id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]goIdP.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *AccountStore) missOrConflict(ctx context.Context, repositoryID, accountID string) error {
	var n int64
	err := s.db.WithContext(ctx).Model(&accountRow{}).
		Where("repository_id = ? AND account_id = ?", repositoryID, accountID).
		Count(&n).Error
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return goIdP.ErrRecordNotFound
	}
	return goIdP.ErrVersionConflict
}
