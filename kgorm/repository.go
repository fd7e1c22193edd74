// Package kgorm implements the ebox storage contracts on top of GORM.
//
// SQLite, PostgreSQL and MySQL dialects are registered by default; see
// NewStorage. Order ids are snowflake ids so they stay unique across
// replicas without a database sequence.
package kgorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/eboxsecure/ebox/core/audit"
	"github.com/eboxsecure/ebox/core/identity"
	"github.com/eboxsecure/ebox/core/order"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Repository struct {
	db  *gorm.DB
	ids *snowflake.Node
}

// NewRepository wraps db using snowflake node 1.
func NewRepository(db *gorm.DB) *Repository {
	node, _ := snowflake.NewNode(1)
	return &Repository{db: db, ids: node}
}

// NewRepositoryWithNode wraps db with a dedicated snowflake node. Each
// replica writing orders needs its own node id in [0, 1023].
func NewRepositoryWithNode(db *gorm.DB, nodeID int64) (*Repository, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("kgorm: snowflake node: %w", err)
	}
	return &Repository{db: db, ids: node}, nil
}

func (r *Repository) DB() *gorm.DB {
	return r.db
}

func init() {
	Register("sqlite", sqlite.Open)
	Register("postgres", postgres.Open)
	Register("mysql", mysql.Open)
}

func (r *Repository) AutoMigrate(models ...any) error {
	baseModels := []any{
		&gormUser{},
		&gormSession{},
		&gormOrder{},
		&gormAuditEvent{},
	}
	return r.db.AutoMigrate(append(baseModels, models...)...)
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// --- Users ---

func (r *Repository) CreateUser(ctx context.Context, u *identity.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	gu := fromCoreUser(u)
	if err := r.db.WithContext(ctx).Create(gu).Error; err != nil {
		return err
	}
	u.CreatedAt, u.UpdatedAt = gu.CreatedAt, gu.UpdatedAt
	return nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (*identity.User, error) {
	var gu gormUser
	if err := r.db.WithContext(ctx).First(&gu, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrUserNotFound
		}
		return nil, err
	}
	return toCoreUser(&gu), nil
}

// --- Sessions ---

func (r *Repository) CreateSession(ctx context.Context, s *identity.Session) error {
	return r.db.WithContext(ctx).Create(fromCoreSession(s)).Error
}

func (r *Repository) GetSession(ctx context.Context, id string) (*identity.Session, error) {
	var gs gormSession
	if err := r.db.WithContext(ctx).First(&gs, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrSessionNotFound
		}
		return nil, err
	}
	return toCoreSession(&gs), nil
}

func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&gormSession{}, "id = ?", id).Error
}

// PurgeSessions deletes sessions that expired before the given time.
func (r *Repository) PurgeSessions(ctx context.Context, expiredBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", expiredBefore).Delete(&gormSession{})
	return res.RowsAffected, res.Error
}

// --- Orders ---

// CreateOrder persists o, assigning a snowflake id when o.ID is zero.
func (r *Repository) CreateOrder(ctx context.Context, o *order.Order) error {
	if o.ID == 0 {
		o.ID = r.ids.Generate().Int64()
	}
	if err := order.ValidateID(o.ID); err != nil {
		return err
	}
	if o.Status == "" {
		o.Status = order.StatusPending
	}
	gr := fromCoreOrder(o)
	if err := r.db.WithContext(ctx).Create(gr).Error; err != nil {
		return err
	}
	o.CreatedAt, o.UpdatedAt = gr.CreatedAt, gr.UpdatedAt
	return nil
}

func (r *Repository) GetOrder(ctx context.Context, id int64) (*order.Order, error) {
	var gr gormOrder
	if err := r.db.WithContext(ctx).First(&gr, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, order.ErrNotFound
		}
		return nil, err
	}
	return toCoreOrder(&gr), nil
}

// TransferOrder moves an order to another owner. Pickup tokens already
// issued for the previous owner stop verifying.
func (r *Repository) TransferOrder(ctx context.Context, id int64, newOwnerID string) error {
	if newOwnerID == "" {
		return errors.New("kgorm: new owner id is required")
	}
	res := r.db.WithContext(ctx).Model(&gormOrder{}).Where("id = ?", id).Updates(map[string]any{
		"owner_id":   newOwnerID,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return order.ErrNotFound
	}
	return nil
}

// ListOrders returns one page of the orders inside scope, newest first.
func (r *Repository) ListOrders(ctx context.Context, scope order.Scope, page, limit int) ([]*order.Order, error) {
	q := r.db.WithContext(ctx).Model(&gormOrder{})
	switch {
	case scope.OwnerID != "":
		q = q.Where("owner_id = ?", scope.OwnerID)
	case scope.CorporationID != "":
		q = q.Where("corporation_id = ?", scope.CorporationID)
	case scope.LocationID != "":
		q = q.Where("location_id = ?", scope.LocationID)
	default:
		return nil, errors.New("kgorm: empty order scope")
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var rows []gormOrder
	if err := q.Order(newestFirst).
		Offset((page - 1) * limit).Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	orders := make([]*order.Order, 0, len(rows))
	for i := range rows {
		orders = append(orders, toCoreOrder(&rows[i]))
	}
	return orders, nil
}

// newestFirst breaks created_at ties on id so pages stay stable.
var newestFirst = clause.OrderBy{Columns: []clause.OrderByColumn{
	{Column: clause.Column{Name: "created_at"}, Desc: true},
	{Column: clause.Column{Name: "id"}, Desc: true},
}}

// --- Audit ---

func (r *Repository) SaveEvent(ctx context.Context, event *audit.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(fromCoreAuditEvent(event)).Error
}

func (r *Repository) Query(ctx context.Context, filter audit.Filter) ([]audit.AuditEvent, error) {
	q := r.auditQuery(ctx, filter).Order("created_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var rows []gormAuditEvent
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]audit.AuditEvent, 0, len(rows))
	for i := range rows {
		events = append(events, toCoreAuditEvent(&rows[i]))
	}
	return events, nil
}

func (r *Repository) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	var n int64
	err := r.auditQuery(ctx, filter).Count(&n).Error
	return n, err
}

func (r *Repository) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", olderThan).Delete(&gormAuditEvent{})
	return res.RowsAffected, res.Error
}

func (r *Repository) auditQuery(ctx context.Context, f audit.Filter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&gormAuditEvent{})
	if len(f.Types) > 0 {
		q = q.Where("type IN ?", f.Types)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.ResourceType != "" {
		q = q.Where("resource_type = ?", f.ResourceType)
	}
	if f.ResourceID != "" {
		q = q.Where("resource_id = ?", f.ResourceID)
	}
	if !f.StartTime.IsZero() {
		q = q.Where("created_at >= ?", f.StartTime)
	}
	if !f.EndTime.IsZero() {
		q = q.Where("created_at <= ?", f.EndTime)
	}
	return q
}

