package models

import "time"

type AlertType string

const (
	AlertPriceCross    AlertType = "price_cross"
	AlertPercentChange AlertType = "percent_change"
	AlertScanMatch     AlertType = "scan_match"
)

type AlertStatus string

const (
	AlertActive    AlertStatus = "active"
	AlertTriggered AlertStatus = "triggered"
	AlertExpired   AlertStatus = "expired"
	AlertCancelled AlertStatus = "cancelled"
)

type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// AlertCondition is the type-specific part of an alert. Which fields are
// meaningful depends on the alert type:
//
//	price_cross     Direction, Threshold
//	percent_change  Direction, PercentChange
//	scan_match      ScanID
type AlertCondition struct {
	Direction     Direction `json:"direction,omitempty"`
	Threshold     *float64  `json:"threshold,omitempty"`
	PercentChange *float64  `json:"percent_change,omitempty"`
	ScanID        *uint     `json:"scan_id,omitempty"`
}

type Alert struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	Name        string         `gorm:"size:255" json:"name"`
	Type        AlertType      `gorm:"size:32;not null" json:"type"`
	Ticker      *string        `gorm:"size:32" json:"ticker,omitempty"`
	Condition   AlertCondition `gorm:"type:text;serializer:json" json:"condition"`
	Status      AlertStatus    `gorm:"size:16;not null;default:active;index" json:"status"`
	NotifyEmail bool           `gorm:"not null;default:false" json:"notify_email"`
	Email       *string        `gorm:"size:255" json:"email,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	TriggeredAt *time.Time     `json:"triggered_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Alert) TableName() string { return "alerts" }

// TickerValue returns the ticker or "" when unset.
func (a *Alert) TickerValue() string {
	if a.Ticker == nil {
		return ""
	}
	return *a.Ticker
}

// Expired reports whether the alert's expiry has passed at now.
func (a *Alert) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// AlertHistory is an append-only record of one trigger.
type AlertHistory struct {
	ID                 uint                   `gorm:"primaryKey" json:"id"`
	AlertID            uint                   `gorm:"not null;index" json:"alert_id"`
	TriggeredAt        time.Time              `gorm:"not null" json:"triggered_at"`
	TriggerValue       *float64               `json:"trigger_value,omitempty"`
	TriggerPrice       *float64               `json:"trigger_price,omitempty"`
	MatchedSymbols     []string               `gorm:"type:text;serializer:json" json:"matched_symbols,omitempty"`
	NotificationSent   bool                   `gorm:"not null;default:false" json:"notification_sent"`
	NotificationDetail string                 `gorm:"size:255" json:"notification_detail,omitempty"`
	Details            map[string]interface{} `gorm:"type:text;serializer:json" json:"details,omitempty"`
}

func (AlertHistory) TableName() string { return "alert_history" }

// AlertOutcome is the result of evaluating one alert.
type AlertOutcome struct {
	AlertID        uint                   `json:"alert_id"`
	Triggered      bool                   `json:"triggered"`
	Reason         string                 `json:"reason,omitempty"`
	Value          *float64               `json:"value,omitempty"`
	Price          *float64               `json:"price,omitempty"`
	MatchedSymbols []string               `json:"matched_symbols,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// EvaluationSummary is returned by one alert evaluation pass.
type EvaluationSummary struct {
	Evaluated int            `json:"evaluated"`
	Triggered int            `json:"triggered"`
	Expired   int            `json:"expired"`
	Skipped   int            `json:"skipped"`
	Errors    int            `json:"errors"`
	Outcomes  []AlertOutcome `json:"outcomes,omitempty"`
}
