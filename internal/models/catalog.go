/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// CatalogItem is a persisted daily news entry.
type CatalogItem struct {
	ID                   string `gorm:"primaryKey"`
	GroupDate            string `gorm:"type:varchar(32);index"`
	Title                string
	MediaRef             string
	DisplayDuration      string `gorm:"type:varchar(16)"`
	ExactDurationSeconds *float64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CompanionAudio is a persisted explainer registration keyed by its primary.
type CompanionAudio struct {
	ParentID             string `gorm:"primaryKey"`
	Title                string
	MediaRef             string
	DisplayDuration      string `gorm:"type:varchar(16)"`
	ExactDurationSeconds *float64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Subscriber holds the plan attributes the billing webhook mutates
// out-of-band. Identity snapshots are built from this record.
type Subscriber struct {
	Email          string `gorm:"primaryKey"`
	Name           string
	Plan           string `gorm:"type:varchar(16)"` // raw collaborator value
	PlanExpireDate string `gorm:"type:varchar(32)"` // calendar date, no time-of-day
	TrialStartFrom string `gorm:"type:varchar(32)"` // calendar date, no time-of-day
	SubscriptionID string `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PlayHistory records a completed or abandoned playback per session.
type PlayHistory struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	SessionID string `gorm:"type:uuid;index"`
	ItemID    string `gorm:"index"`
	Kind      ItemKind
	Completed bool
	PlayedAt  time.Time
}
