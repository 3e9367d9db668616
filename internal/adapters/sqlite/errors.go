package sqlite

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
)

// translate maps driver errors onto the domain taxonomy. modernc reports
// constraint failures only through the message text.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return domain.ErrConflict
	default:
		return err
	}
}
