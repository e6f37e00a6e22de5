package option

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/georgeminyillahmensah/license-service/pkg/db/pagination"
)

// QueryOption mutates a gorm query before it is executed by a repository.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// LockingUpdate is a gorm scope enabling SELECT ... FOR UPDATE on every query
// executed within the scoped transaction.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// WithLockingUpdate locks the rows read by a single repository call.
func WithLockingUpdate() QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return LockingUpdate(db)
	}
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := sort.SortBy
		if column == "" {
			column = "created_at"
		}
		if sort.Allow != nil && !sort.Allow[column] {
			return db
		}

		order := "ASC"
		if strings.EqualFold(sort.OrderBy, "desc") {
			order = "DESC"
		}

		return db.Order(fmt.Sprintf("%s %s", column, order))
	}
}

func ApplyOperator(cond Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), cond.Value)
	}
}

func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		db = db.Limit(limit)

		if p.Cursor != "" {
			cursor, err := pagination.DecodeCursor(p.Cursor)
			if err == nil && cursor.CreatedAt != "" {
				if ts, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt); err == nil {
					db = db.Where("created_at < ?", ts)
				}
			}
		}

		return db
	}
}

// Apply runs every option against the query.
func Apply(db *gorm.DB, opts ...QueryOption) *gorm.DB {
	for _, opt := range opts {
		db = opt(db)
	}
	return db
}
