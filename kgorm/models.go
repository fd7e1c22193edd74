package kgorm

import (
	"time"

	"github.com/eboxsecure/ebox/core/audit"
	"github.com/eboxsecure/ebox/core/identity"
	"github.com/eboxsecure/ebox/core/order"
)

type gormUser struct {
	ID            string `gorm:"primaryKey"`
	Email         string `gorm:"uniqueIndex"`
	Role          string `gorm:"index"`
	CorporationID string `gorm:"index"`
	LocationID    string `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (gormUser) TableName() string { return "users" }

func toCoreUser(gu *gormUser) *identity.User {
	if gu == nil {
		return nil
	}
	return &identity.User{
		ID:            gu.ID,
		Email:         gu.Email,
		Role:          identity.Role(gu.Role),
		CorporationID: gu.CorporationID,
		LocationID:    gu.LocationID,
		CreatedAt:     gu.CreatedAt,
		UpdatedAt:     gu.UpdatedAt,
	}
}

func fromCoreUser(u *identity.User) *gormUser {
	if u == nil {
		return nil
	}
	return &gormUser{
		ID:            u.ID,
		Email:         u.Email,
		Role:          string(u.Role),
		CorporationID: u.CorporationID,
		LocationID:    u.LocationID,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

type gormSession struct {
	ID         string `gorm:"primaryKey"`
	IdentityID string `gorm:"index"`
	ExpiresAt  time.Time
	IssuedAt   time.Time
	Active     bool
}

func (gormSession) TableName() string { return "sessions" }

func toCoreSession(gs *gormSession) *identity.Session {
	if gs == nil {
		return nil
	}
	return &identity.Session{
		ID:         gs.ID,
		IdentityID: gs.IdentityID,
		ExpiresAt:  gs.ExpiresAt,
		IssuedAt:   gs.IssuedAt,
		Active:     gs.Active,
	}
}

func fromCoreSession(s *identity.Session) *gormSession {
	if s == nil {
		return nil
	}
	return &gormSession{
		ID:         s.ID,
		IdentityID: s.IdentityID,
		ExpiresAt:  s.ExpiresAt,
		IssuedAt:   s.IssuedAt,
		Active:     s.Active,
	}
}

type gormOrder struct {
	ID             int64  `gorm:"primaryKey;autoIncrement:false"`
	OwnerID        string `gorm:"index"`
	CorporationID  string `gorm:"index"`
	LocationID     string `gorm:"index"`
	TrackingNumber string `gorm:"index"`
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (gormOrder) TableName() string { return "orders" }

func toCoreOrder(gr *gormOrder) *order.Order {
	if gr == nil {
		return nil
	}
	return &order.Order{
		ID:             gr.ID,
		OwnerID:        gr.OwnerID,
		CorporationID:  gr.CorporationID,
		LocationID:     gr.LocationID,
		TrackingNumber: gr.TrackingNumber,
		Status:         order.Status(gr.Status),
		CreatedAt:      gr.CreatedAt,
		UpdatedAt:      gr.UpdatedAt,
	}
}

func fromCoreOrder(o *order.Order) *gormOrder {
	if o == nil {
		return nil
	}
	return &gormOrder{
		ID:             o.ID,
		OwnerID:        o.OwnerID,
		CorporationID:  o.CorporationID,
		LocationID:     o.LocationID,
		TrackingNumber: o.TrackingNumber,
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

type gormAuditEvent struct {
	ID           string `gorm:"primaryKey"`
	Type         string `gorm:"index"`
	ActorID      string `gorm:"index"`
	SubjectID    string
	Status       string `gorm:"index"`
	Message      string
	Metadata     []byte
	SessionID    string `gorm:"index"`
	DeviceID     string
	ResourceType string `gorm:"index:idx_audit_resource"`
	ResourceID   string `gorm:"index:idx_audit_resource"`
	Risk         string
	CreatedAt    time.Time `gorm:"index"`
}

func (gormAuditEvent) TableName() string { return "audit_events" }

func toCoreAuditEvent(ge *gormAuditEvent) audit.AuditEvent {
	return audit.AuditEvent{
		ID:           ge.ID,
		Type:         ge.Type,
		ActorID:      ge.ActorID,
		SubjectID:    ge.SubjectID,
		Status:       ge.Status,
		Message:      ge.Message,
		Metadata:     ge.Metadata,
		SessionID:    ge.SessionID,
		DeviceID:     ge.DeviceID,
		ResourceType: ge.ResourceType,
		ResourceID:   ge.ResourceID,
		Risk:         audit.RiskLevel(ge.Risk),
		CreatedAt:    ge.CreatedAt,
	}
}

func fromCoreAuditEvent(e *audit.AuditEvent) *gormAuditEvent {
	return &gormAuditEvent{
		ID:           e.ID,
		Type:         e.Type,
		ActorID:      e.ActorID,
		SubjectID:    e.SubjectID,
		Status:       e.Status,
		Message:      e.Message,
		Metadata:     e.Metadata,
		SessionID:    e.SessionID,
		DeviceID:     e.DeviceID,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Risk:         string(e.Risk),
		CreatedAt:    e.CreatedAt,
	}
}
