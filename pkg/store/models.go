package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type MessageLogModel struct {
	MessageID       string `gorm:"primaryKey"`
	SenderID        string `gorm:"not null;index"`
	StoreID         string `gorm:"index"`
	MessageType     string `gorm:"not null"`
	RawText         string `gorm:"type:text"`
	MediaRef        string
	MediaURL        string
	Classification  string
	ExtractedFields datatypes.JSON `gorm:"type:jsonb"`
	Processed       bool           `gorm:"not null;default:false"`
	CreatedAt       time.Time      `gorm:"not null;index"`
	UpdatedAt       time.Time      `gorm:"not null"`
}

type PendingActionModel struct {
	ID              string         `gorm:"primaryKey"`
	SenderID        string         `gorm:"not null;index"`
	StoreID         string         `gorm:"not null;index:idx_pending_store_status_created"`
	Category        string         `gorm:"not null"`
	Fields          datatypes.JSON `gorm:"type:jsonb"`
	Confidence      float64        `gorm:"not null"`
	Status          string         `gorm:"not null;index:idx_pending_store_status_created;index"`
	SourceMessageID string         `gorm:"not null;uniqueIndex"`
	MediaURL        string
	CreatedAt       time.Time `gorm:"not null;index:idx_pending_store_status_created"`
	ExpiresAt       time.Time `gorm:"not null;index"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// PendingPointerModel points at the sender's most recently created action.
type PendingPointerModel struct {
	SenderID  string    `gorm:"primaryKey"`
	ActionID  string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type StoreBindingModel struct {
	SenderID  string    `gorm:"primaryKey"`
	StoreID   string    `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

type StoreModel struct {
	ID             string `gorm:"primaryKey"`
	Name           string `gorm:"not null"`
	SheetID        string
	VendorContacts datatypes.JSON `gorm:"type:jsonb"`
	Active         bool           `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null"`
}
