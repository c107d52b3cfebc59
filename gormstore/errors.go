package gormstore

import (
	"errors"
	"fmt"
	"strings"

	goIdP "github.com/MrEthical07/goIdP"
	"gorm.io/gorm"
)

// mapError translates gorm failures into the store contract errors.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return goIdP.ErrRecordNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return fmt.Errorf("%w: %v", goIdP.ErrDuplicateRecord, err)
	default:
		return fmt.Errorf("%w: %v", goIdP.ErrStoreUnavailable, err)
	}
}

// isUniqueViolation catches driver errors that slipped past TranslateError.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
