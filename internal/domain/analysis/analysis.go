package analysis

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusRunning   = "running"
	StatusComplete  = "complete"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Analysis is the persisted record of an authenticated run. RunID is the
// session id and the ledger correlation id for its debit.
type Analysis struct {
	ID      uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID  uuid.UUID      `gorm:"type:uuid;not null;index:idx_analyses_user_created,priority:1;column:user_id" json:"user_id"`
	RunID   string         `gorm:"not null;uniqueIndex;column:run_id" json:"run_id"`
	Ticker  string         `gorm:"not null;column:ticker" json:"ticker"`
	Status  string         `gorm:"not null;column:status" json:"status"`
	CostUSD float64        `gorm:"not null;default:0;column:cost_usd" json:"cost_usd"`
	Result  datatypes.JSON `gorm:"column:result" json:"result,omitempty"`

	CreatedAt time.Time `gorm:"not null;index:idx_analyses_user_created,priority:2,sort:desc;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Analysis) TableName() string { return "analyses" }
