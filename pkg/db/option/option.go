package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before execution.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

// QueryOptionFunc adapts a plain function for conditions the helpers below
// cannot express.
type QueryOptionFunc func(db *gorm.DB) *gorm.DB

func (f QueryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a single comparison. The field must be a plain column name.
func ApplyOperator(c Condition) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		field := strings.TrimSpace(c.Field)
		if field == "" || !isIdentifier(field) {
			return db
		}
		op := c.Operator
		if op == "" {
			op = EQ
		}
		if op == IN {
			return db.Where(fmt.Sprintf("%s IN ?", field), c.Value)
		}
		return db.Where(fmt.Sprintf("%s %s ?", field, op), c.Value)
	})
}

// OrderBy appends "column [asc|desc]" terms in order. Terms naming anything
// other than a plain column are dropped.
func OrderBy(terms ...string) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		for _, term := range terms {
			fields := strings.Fields(strings.ToLower(term))
			if len(fields) == 0 || len(fields) > 2 || !isIdentifier(fields[0]) {
				continue
			}
			direction := "asc"
			if len(fields) == 2 {
				if fields[1] != "asc" && fields[1] != "desc" {
					continue
				}
				direction = fields[1]
			}
			db = db.Order(fields[0] + " " + direction)
		}
		return db
	})
}

func isIdentifier(value string) bool {
	for _, r := range value {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' && r != '.' {
			return false
		}
	}
	return true
}
