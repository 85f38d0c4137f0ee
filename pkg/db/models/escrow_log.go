package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bazari-settlement/pkg/enums"
)

// EscrowLog is an append-only audit entry. Rows are never updated or deleted.
type EscrowLog struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID           `gorm:"column:order_id;type:uuid;not null"`
	Kind      enums.EscrowLogKind `gorm:"column:kind;not null"`
	Payload   json.RawMessage     `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
}
