package domain

import (
	"strings"
	"time"
)

// Category is the business kind of an inbound message.
type Category string

const (
	CategoryOrderRequest   Category = "ORDER_REQUEST"
	CategoryStoreSales     Category = "STORE_SALES"
	CategoryFuelSales      Category = "FUEL_SALES"
	CategoryInvoiceExpense Category = "INVOICE_EXPENSE"
	CategoryPaidOut        Category = "PAID_OUT"
	CategoryUnknown        Category = "UNKNOWN"
)

// Categories lists the known categories, Unknown excluded.
var Categories = []Category{
	CategoryOrderRequest,
	CategoryStoreSales,
	CategoryFuelSales,
	CategoryInvoiceExpense,
	CategoryPaidOut,
}

// ParseCategory maps a free-form label to a Category. Unrecognized input yields CategoryUnknown.
func ParseCategory(s string) Category {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(normalized)
	for _, c := range Categories {
		if normalized == string(c) {
			return c
		}
	}
	return CategoryUnknown
}

// Label is the human-readable name used in chat replies.
func (c Category) Label() string {
	switch c {
	case CategoryOrderRequest:
		return "Order Request"
	case CategoryStoreSales:
		return "Store Sales"
	case CategoryFuelSales:
		return "Fuel Sales"
	case CategoryInvoiceExpense:
		return "Invoice/Expense"
	case CategoryPaidOut:
		return "Paid Out"
	default:
		return "Entry"
	}
}

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeDocument MessageType = "document"
)

// InboundMessage is a normalized chat message handed over by the transport gateway.
// MessageID is the idempotency key for the whole pipeline.
type InboundMessage struct {
	MessageID  string    `json:"messageId" validate:"required,max=256"`
	SenderID   string    `json:"senderId" validate:"required,max=64"`
	Text       string    `json:"text,omitempty" validate:"max=8192"`
	MediaRef   string    `json:"mediaRef,omitempty" validate:"max=256"`
	MediaKind  string    `json:"mediaKind,omitempty" validate:"max=128"`
	ReceivedAt time.Time `json:"receivedAt,omitempty"`
}

// Type reports how the message should be logged.
func (m InboundMessage) Type() MessageType {
	if strings.TrimSpace(m.MediaRef) == "" {
		return MessageTypeText
	}
	kind := strings.ToLower(m.MediaKind)
	if strings.Contains(kind, "pdf") || strings.HasPrefix(kind, "application/") || kind == "document" {
		return MessageTypeDocument
	}
	return MessageTypeImage
}

// HasMedia reports whether the message carries an attachment worth fetching.
func (m InboundMessage) HasMedia() bool {
	return m.Type() != MessageTypeText
}

// MessageLogEntry records one inbound message and what the pipeline learned about it.
type MessageLogEntry struct {
	MessageID       string      `json:"messageId"`
	SenderID        string      `json:"senderId"`
	StoreID         string      `json:"storeId,omitempty"`
	MessageType     MessageType `json:"messageType"`
	RawText         string      `json:"rawText,omitempty"`
	MediaRef        string      `json:"mediaRef,omitempty"`
	MediaURL        string      `json:"mediaUrl,omitempty"`
	Classification  Category    `json:"classification,omitempty"`
	ExtractedFields Fields      `json:"-"`
	Processed       bool        `json:"processed"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// MessageLogPatch is an additive update. Zero values are left untouched and
// Processed can only move from false to true.
type MessageLogPatch struct {
	StoreID         string
	MediaURL        string
	Classification  Category
	ExtractedFields Fields
	Processed       bool
}

// Store is a tenant registry record.
type Store struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	SheetID        string            `json:"sheetId"`
	VendorContacts map[string]string `json:"vendorContacts,omitempty"`
	Active         bool              `json:"active"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// VendorContact returns the phone number registered for vendor, matched case-insensitively.
func (s Store) VendorContact(vendor string) (string, bool) {
	vendor = strings.TrimSpace(vendor)
	for name, phone := range s.VendorContacts {
		if strings.EqualFold(name, vendor) && strings.TrimSpace(phone) != "" {
			return phone, true
		}
	}
	return "", false
}

// StoreBinding maps a sender to the store they report for.
type StoreBinding struct {
	SenderID  string    `json:"senderId"`
	StoreID   string    `json:"storeId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ClassificationSource string

const (
	SourceRules ClassificationSource = "rules"
	SourceModel ClassificationSource = "model"
	SourceNone  ClassificationSource = "none"
)

// Classification is the outcome of the two-tier classifier.
type Classification struct {
	Category   Category             `json:"category"`
	Confidence float64              `json:"confidence"`
	Source     ClassificationSource `json:"source"`
	Degraded   *Degradation         `json:"degraded,omitempty"`
}

// Degradation marks a stage that failed softly and let the pipeline continue.
type Degradation struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

func (d Degradation) String() string {
	return d.Stage + ": " + d.Reason
}

// ExtractionResult is what the field extractor produced for one message.
type ExtractionResult struct {
	Fields         Fields       `json:"-"`
	Confidence     float64      `json:"confidence"`
	RawText        string       `json:"rawText"`
	SourceMediaURL string       `json:"sourceMediaUrl,omitempty"`
	Notes          string       `json:"notes,omitempty"`
	Degraded       *Degradation `json:"degraded,omitempty"`
}

type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "PENDING"
	PendingStatusConfirmed PendingStatus = "CONFIRMED"
	PendingStatusCancelled PendingStatus = "CANCELLED"
	PendingStatusExpired   PendingStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are allowed.
func (s PendingStatus) Terminal() bool {
	return s != PendingStatusPending
}

// PendingTTL is how long an unconfirmed action stays actionable.
const PendingTTL = 24 * time.Hour

// PendingAction is a proposed record awaiting the sender's confirmation.
type PendingAction struct {
	ID              string        `json:"id"`
	SenderID        string        `json:"senderId"`
	StoreID         string        `json:"storeId"`
	Category        Category      `json:"category"`
	Fields          Fields        `json:"-"`
	Confidence      float64       `json:"confidence"`
	Status          PendingStatus `json:"status"`
	SourceMessageID string        `json:"sourceMessageId"`
	MediaURL        string        `json:"mediaUrl,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	ExpiresAt       time.Time     `json:"expiresAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Live reports whether the action can still be acted on at now.
func (a PendingAction) Live(now time.Time) bool {
	return a.Status == PendingStatusPending && a.ExpiresAt.After(now)
}
