package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowModel maps to the "workflows" table.
type WorkflowModel struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null;index"`
	Description string
	State       string `gorm:"not null;index"`
	Steps       JSONB  `gorm:"type:jsonb;not null"`
	Results     JSONB  `gorm:"type:jsonb"`
	Error       string
	StepCount   int
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (WorkflowModel) TableName() string { return "workflows" }

// JSONB is a raw JSON column. SQLite stores it as text.
type JSONB json.RawMessage

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append(JSONB(nil), v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("scanning JSONB: unsupported type %T", src)
	}
	return nil
}
