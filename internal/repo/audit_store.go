package repo

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"meshgate/internal/logs"
	"meshgate/internal/mesh"
	"meshgate/internal/models"
)

// AuditStore mirrors registry mutations into the optional database. Writes
// are best-effort: a failure is logged and otherwise ignored, and the request
// path never reads these rows back.
type AuditStore struct {
	db  *gorm.DB
	log *logrus.Entry
}

func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db, log: logs.Component("audit")}
}

// Migrate creates the audit tables.
func (s *AuditStore) Migrate() error {
	return s.db.AutoMigrate(&models.DeviceRecord{}, &models.DeviceEvent{})
}

func (s *AuditStore) event(ctx context.Context, deviceID, event, detail string) {
	err := s.db.WithContext(ctx).Create(&models.DeviceEvent{
		DeviceID: deviceID,
		Event:    event,
		Detail:   detail,
	}).Error
	if err != nil {
		s.log.Warnf("audit event write failed: %v", err)
	}
}

func (s *AuditStore) DeviceRegistered(ctx context.Context, d mesh.Device) {
	rec := models.DeviceRecord{
		DeviceID:      d.ID,
		Name:          d.Name,
		Kind:          string(d.Kind),
		SourceAddress: d.SourceAddress,
		State:         string(d.State),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		s.log.Warnf("audit record write failed: %v", err)
	}
	s.event(ctx, d.ID, "registered", d.Name)
}

func (s *AuditStore) DeviceApproved(ctx context.Context, deviceID string) {
	err := s.db.WithContext(ctx).Model(&models.DeviceRecord{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]any{"state": string(mesh.StateOnline), "approved": true}).Error
	if err != nil {
		s.log.Warnf("audit record update failed: %v", err)
	}
	s.event(ctx, deviceID, "approved", "")
}

func (s *AuditStore) DeviceRejected(ctx context.Context, deviceID string) {
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Delete(&models.DeviceRecord{}).Error
	if err != nil {
		s.log.Warnf("audit record delete failed: %v", err)
	}
	s.event(ctx, deviceID, "rejected", "")
}

func (s *AuditStore) DeviceState(ctx context.Context, deviceID string, state mesh.DeviceState) {
	err := s.db.WithContext(ctx).Model(&models.DeviceRecord{}).
		Where("device_id = ?", deviceID).
		Update("state", string(state)).Error
	if err != nil {
		s.log.Warnf("audit record update failed: %v", err)
	}
	s.event(ctx, deviceID, "state", string(state))
}
