package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"storeops/pkg/domain"
)

const migrateLockID int64 = 51730917

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&MessageLogModel{},
			&PendingActionModel{},
			&PendingPointerModel{},
			&StoreBindingModel{},
			&StoreModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetMessage returns the log entry for messageID.
func (s *GormStore) GetMessage(ctx context.Context, messageID string) (domain.MessageLogEntry, bool, error) {
	var model MessageLogModel
	if err := s.db.WithContext(ctx).First(&model, "message_id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.MessageLogEntry{}, false, nil
		}
		return domain.MessageLogEntry{}, false, err
	}
	entry, err := messageFromModel(model)
	if err != nil {
		return domain.MessageLogEntry{}, false, err
	}
	return entry, true, nil
}

// LogMessage inserts the entry if its message id is new.
func (s *GormStore) LogMessage(ctx context.Context, entry domain.MessageLogEntry) (bool, error) {
	model, err := messageToModel(entry)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	model.UpdatedAt = now
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateMessage applies an additive patch.
func (s *GormStore) UpdateMessage(ctx context.Context, messageID string, patch domain.MessageLogPatch) error {
	updates := map[string]any{}
	if patch.StoreID != "" {
		updates["store_id"] = patch.StoreID
	}
	if patch.MediaURL != "" {
		updates["media_url"] = patch.MediaURL
	}
	if patch.Classification != "" {
		updates["classification"] = string(patch.Classification)
	}
	if patch.ExtractedFields != nil {
		data, err := domain.EncodeFields(patch.ExtractedFields)
		if err != nil {
			return err
		}
		updates["extracted_fields"] = datatypes.JSON(data)
	}
	if patch.Processed {
		updates["processed"] = true
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&MessageLogModel{}).Where("message_id = ?", messageID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// CreatePendingAction inserts the action and moves the sender's pointer to it.
func (s *GormStore) CreatePendingAction(ctx context.Context, action domain.PendingAction) (domain.PendingAction, bool, error) {
	if action.SourceMessageID == "" {
		return domain.PendingAction{}, false, errors.New("source message id required")
	}
	action = newPendingAction(action, uuid.NewString(), time.Now())
	model, err := pendingToModel(action)
	if err != nil {
		return domain.PendingAction{}, false, err
	}

	var (
		out     = action
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_message_id"}},
			DoNothing: true,
		}).Create(&model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var existing PendingActionModel
			if err := tx.First(&existing, "source_message_id = ?", action.SourceMessageID).Error; err != nil {
				return err
			}
			found, err := pendingFromModel(existing)
			if err != nil {
				return err
			}
			out = found
			return nil
		}
		created = true
		pointer := PendingPointerModel{SenderID: action.SenderID, ActionID: action.ID, UpdatedAt: action.CreatedAt}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sender_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"action_id", "updated_at"}),
		}).Create(&pointer).Error
	})
	if err != nil {
		return domain.PendingAction{}, false, err
	}
	return out, created, nil
}

// GetPendingAction returns an action by id regardless of status.
func (s *GormStore) GetPendingAction(ctx context.Context, actionID string) (domain.PendingAction, bool, error) {
	var model PendingActionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", actionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PendingAction{}, false, nil
		}
		return domain.PendingAction{}, false, err
	}
	action, err := pendingFromModel(model)
	if err != nil {
		return domain.PendingAction{}, false, err
	}
	return action, true, nil
}

// LatestPendingAction follows the sender's pointer and applies lazy expiry.
func (s *GormStore) LatestPendingAction(ctx context.Context, senderID string, now time.Time) (domain.PendingAction, bool, error) {
	var pointer PendingPointerModel
	if err := s.db.WithContext(ctx).First(&pointer, "sender_id = ?", senderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PendingAction{}, false, nil
		}
		return domain.PendingAction{}, false, err
	}
	action, found, err := s.GetPendingAction(ctx, pointer.ActionID)
	if err != nil || !found {
		return domain.PendingAction{}, false, err
	}
	if !action.Live(now) {
		return domain.PendingAction{}, false, nil
	}
	return action, true, nil
}

// UpdatePendingFields replaces the fields of a PENDING action.
func (s *GormStore) UpdatePendingFields(ctx context.Context, actionID string, fields domain.Fields) (domain.PendingAction, error) {
	data, err := domain.EncodeFields(fields)
	if err != nil {
		return domain.PendingAction{}, err
	}
	res := s.db.WithContext(ctx).Model(&PendingActionModel{}).
		Where("id = ? AND status = ?", actionID, string(domain.PendingStatusPending)).
		Updates(map[string]any{
			"fields":     datatypes.JSON(data),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.PendingAction{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.PendingAction{}, s.missingOrInvalid(ctx, actionID)
	}
	action, _, err := s.GetPendingAction(ctx, actionID)
	return action, err
}

// TransitionPendingAction moves a PENDING action to a terminal status.
func (s *GormStore) TransitionPendingAction(ctx context.Context, actionID string, to domain.PendingStatus) (domain.PendingAction, error) {
	if !validTransition(domain.PendingStatusPending, to) {
		return domain.PendingAction{}, fmt.Errorf("transition to %s: %w", to, ErrInvalidTransition)
	}
	res := s.db.WithContext(ctx).Model(&PendingActionModel{}).
		Where("id = ? AND status = ?", actionID, string(domain.PendingStatusPending)).
		Updates(map[string]any{
			"status":     string(to),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.PendingAction{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.PendingAction{}, s.missingOrInvalid(ctx, actionID)
	}
	action, _, err := s.GetPendingAction(ctx, actionID)
	return action, err
}

func (s *GormStore) missingOrInvalid(ctx context.Context, actionID string) error {
	_, found, err := s.GetPendingAction(ctx, actionID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("pending action %s: %w", actionID, ErrNotFound)
	}
	return fmt.Errorf("pending action %s: %w", actionID, ErrInvalidTransition)
}

// ExpirePendingActions materializes EXPIRED for overdue PENDING actions.
func (s *GormStore) ExpirePendingActions(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&PendingActionModel{}).
		Where("status = ? AND expires_at <= ?", string(domain.PendingStatusPending), now.UTC()).
		Updates(map[string]any{
			"status":     string(domain.PendingStatusExpired),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// ListActionsByStore returns actions created in [from, to) ordered by creation time.
func (s *GormStore) ListActionsByStore(ctx context.Context, storeID string, status domain.PendingStatus, from, to time.Time) ([]domain.PendingAction, error) {
	var models []PendingActionModel
	if err := s.db.WithContext(ctx).
		Where("store_id = ? AND status = ? AND created_at >= ? AND created_at < ?", storeID, string(status), from.UTC(), to.UTC()).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.PendingAction, 0, len(models))
	for _, m := range models {
		action, err := pendingFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, action)
	}
	return res, nil
}

// GetBinding returns the store bound to senderID.
func (s *GormStore) GetBinding(ctx context.Context, senderID string) (domain.StoreBinding, bool, error) {
	var model StoreBindingModel
	if err := s.db.WithContext(ctx).First(&model, "sender_id = ?", senderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.StoreBinding{}, false, nil
		}
		return domain.StoreBinding{}, false, err
	}
	return domain.StoreBinding{SenderID: model.SenderID, StoreID: model.StoreID, UpdatedAt: model.UpdatedAt}, true, nil
}

// SaveBinding creates or replaces a sender binding.
func (s *GormStore) SaveBinding(ctx context.Context, binding domain.StoreBinding) error {
	if binding.UpdatedAt.IsZero() {
		binding.UpdatedAt = time.Now().UTC()
	}
	model := StoreBindingModel{SenderID: binding.SenderID, StoreID: binding.StoreID, UpdatedAt: binding.UpdatedAt}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sender_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"store_id", "updated_at"}),
	}).Create(&model).Error
}

// GetStore looks up a registry record.
func (s *GormStore) GetStore(ctx context.Context, storeID string) (domain.Store, bool, error) {
	var model StoreModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", storeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Store{}, false, nil
		}
		return domain.Store{}, false, err
	}
	st, err := storeFromModel(model)
	if err != nil {
		return domain.Store{}, false, err
	}
	return st, true, nil
}

// SaveStore creates or updates a registry record.
func (s *GormStore) SaveStore(ctx context.Context, st domain.Store) error {
	model, err := storeToModel(st)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "sheet_id", "vendor_contacts", "active", "updated_at"}),
	}).Create(&model).Error
}

func messageToModel(e domain.MessageLogEntry) (MessageLogModel, error) {
	var fields datatypes.JSON
	if e.ExtractedFields != nil {
		data, err := domain.EncodeFields(e.ExtractedFields)
		if err != nil {
			return MessageLogModel{}, err
		}
		fields = datatypes.JSON(data)
	}
	return MessageLogModel{
		MessageID:       e.MessageID,
		SenderID:        e.SenderID,
		StoreID:         e.StoreID,
		MessageType:     string(e.MessageType),
		RawText:         e.RawText,
		MediaRef:        e.MediaRef,
		MediaURL:        e.MediaURL,
		Classification:  string(e.Classification),
		ExtractedFields: fields,
		Processed:       e.Processed,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}, nil
}

func messageFromModel(m MessageLogModel) (domain.MessageLogEntry, error) {
	entry := domain.MessageLogEntry{
		MessageID:      m.MessageID,
		SenderID:       m.SenderID,
		StoreID:        m.StoreID,
		MessageType:    domain.MessageType(m.MessageType),
		RawText:        m.RawText,
		MediaRef:       m.MediaRef,
		MediaURL:       m.MediaURL,
		Classification: domain.Category(m.Classification),
		Processed:      m.Processed,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if len(m.ExtractedFields) > 0 {
		fields, err := domain.DecodeFields(entry.Classification, m.ExtractedFields)
		if err != nil {
			return domain.MessageLogEntry{}, err
		}
		entry.ExtractedFields = fields
	}
	return entry, nil
}

func pendingToModel(a domain.PendingAction) (PendingActionModel, error) {
	data, err := domain.EncodeFields(a.Fields)
	if err != nil {
		return PendingActionModel{}, err
	}
	return PendingActionModel{
		ID:              a.ID,
		SenderID:        a.SenderID,
		StoreID:         a.StoreID,
		Category:        string(a.Category),
		Fields:          datatypes.JSON(data),
		Confidence:      a.Confidence,
		Status:          string(a.Status),
		SourceMessageID: a.SourceMessageID,
		MediaURL:        a.MediaURL,
		CreatedAt:       a.CreatedAt,
		ExpiresAt:       a.ExpiresAt,
		UpdatedAt:       a.UpdatedAt,
	}, nil
}

func pendingFromModel(m PendingActionModel) (domain.PendingAction, error) {
	category := domain.Category(m.Category)
	fields, err := domain.DecodeFields(category, m.Fields)
	if err != nil {
		return domain.PendingAction{}, err
	}
	return domain.PendingAction{
		ID:              m.ID,
		SenderID:        m.SenderID,
		StoreID:         m.StoreID,
		Category:        category,
		Fields:          fields,
		Confidence:      m.Confidence,
		Status:          domain.PendingStatus(m.Status),
		SourceMessageID: m.SourceMessageID,
		MediaURL:        m.MediaURL,
		CreatedAt:       m.CreatedAt,
		ExpiresAt:       m.ExpiresAt,
		UpdatedAt:       m.UpdatedAt,
	}, nil
}

func storeToModel(st domain.Store) (StoreModel, error) {
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	contacts, err := json.Marshal(st.VendorContacts)
	if err != nil {
		return StoreModel{}, fmt.Errorf("encode vendor contacts: %w", err)
	}
	return StoreModel{
		ID:             st.ID,
		Name:           st.Name,
		SheetID:        st.SheetID,
		VendorContacts: datatypes.JSON(contacts),
		Active:         st.Active,
		CreatedAt:      st.CreatedAt,
		UpdatedAt:      st.UpdatedAt,
	}, nil
}

func storeFromModel(m StoreModel) (domain.Store, error) {
	st := domain.Store{
		ID:        m.ID,
		Name:      m.Name,
		SheetID:   m.SheetID,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if len(m.VendorContacts) > 0 && string(m.VendorContacts) != "null" {
		if err := json.Unmarshal(m.VendorContacts, &st.VendorContacts); err != nil {
			return domain.Store{}, fmt.Errorf("decode vendor contacts: %w", err)
		}
	}
	return st, nil
}
