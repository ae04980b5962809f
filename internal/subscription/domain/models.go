// Package domain contains the subscription binding an org to a plan.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusPaused   Status = "PAUSED"
	StatusCanceled Status = "CANCELED"
)

// Subscription binds an organization to a catalog plan for a rolling
// one-month billing period. Period bounds are advanced by the rollover
// job; everything else is externally managed.
type Subscription struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID              snowflake.ID `gorm:"not null;index" json:"org_id"`
	PlanCode           string       `gorm:"type:text;not null" json:"plan_code"`
	Status             Status       `gorm:"type:text;not null;default:ACTIVE" json:"status"`
	CurrentPeriodStart time.Time    `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time    `gorm:"not null;index" json:"current_period_end"`
	GatewayRef         string       `gorm:"type:text" json:"gateway_ref"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

var ErrSubscriptionNotFound = errors.New("subscription_not_found")

type Service interface {
	ActiveByOrgID(ctx context.Context, orgID snowflake.ID) (*Subscription, error)
}
