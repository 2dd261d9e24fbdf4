package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	"github.com/pbit-labs/pbit-classroom-api/internal/repository"
	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
)

type sensorRepository interface {
	InsertBatch(ctx context.Context, deviceID string, readings []models.SensorReading) error
	Range(ctx context.Context, q models.DataRangeQuery) ([]models.DeviceData, error)
	Latest(ctx context.Context, deviceID string) (*models.DeviceData, error)
	Aggregates(ctx context.Context, deviceID string, sensorType *models.SensorType) ([]models.SensorAggregate, error)
}

type sensorDeviceRepository interface {
	FindByID(ctx context.Context, id string) (*models.Device, error)
	FindByMAC(ctx context.Context, mac string) (*models.Device, error)
	Create(ctx context.Context, device *models.Device) error
	HasPublicAssignment(ctx context.Context, deviceID string) (bool, error)
	AssignmentClassrooms(ctx context.Context, deviceID string) ([]string, error)
}

type aggregateCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type ingestMetrics interface {
	ReadingsRecorded(count int)
	ReadingsSkipped(count int)
	CacheHit()
	CacheMiss()
}

// SensorConfig tunes the ingestion pipeline.
type SensorConfig struct {
	MaxBatchSize      int
	AggregateCacheTTL time.Duration
}

// SensorService stores and serves the device time series.
type SensorService struct {
	repo      sensorRepository
	devices   sensorDeviceRepository
	classes   classAccess
	cache     aggregateCache
	metrics   ingestMetrics
	validator *validator.Validate
	logger    *zap.Logger
	config    SensorConfig
}

// NewSensorService constructs a SensorService instance. Cache and metrics
// may be nil.
func NewSensorService(repo sensorRepository, devices sensorDeviceRepository, classes classAccess, cache aggregateCache, metrics ingestMetrics, validate *validator.Validate, logger *zap.Logger, config SensorConfig) *SensorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = models.MaxBatchReadings
	}
	if config.AggregateCacheTTL <= 0 {
		config.AggregateCacheTTL = 5 * time.Minute
	}
	return &SensorService{repo: repo, devices: devices, classes: classes, cache: cache, metrics: metrics, validator: validate, logger: logger, config: config}
}

// IngestBatch stores a batch uploaded by a registered user. The caller must
// be the classroom owner or a member.
func (s *SensorService) IngestBatch(ctx context.Context, userID string, req models.BLEBatchRequest) (*models.IngestResult, error) {
	allowed, err := s.classes.CanView(ctx, req.ClassroomID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a member of this classroom")
	}
	return s.ingest(ctx, req)
}

// IngestBatchAnonymous stores a batch on behalf of an already verified
// anonymous student.
func (s *SensorService) IngestBatchAnonymous(ctx context.Context, student *models.AnonymousStudent, req models.BLEBatchRequest) (*models.IngestResult, error) {
	if student.ClassID != req.ClassroomID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student does not belong to this classroom")
	}
	return s.ingest(ctx, req)
}

func (s *SensorService) ingest(ctx context.Context, req models.BLEBatchRequest) (*models.IngestResult, error) {
	if strings.TrimSpace(req.ClassroomID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "classroom_id is required")
	}
	if len(req.Readings) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "readings must not be empty")
	}
	if len(req.Readings) > s.config.MaxBatchSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("a batch may carry at most %d readings", s.config.MaxBatchSize))
	}

	device, err := s.resolveDevice(ctx, req)
	if err != nil {
		return nil, err
	}

	valid := make([]models.SensorReading, 0, len(req.Readings))
	skipped := 0
	for i, reading := range req.Readings {
		if err := s.validator.Struct(reading); err != nil {
			skipped++
			s.logger.Warn("skipping malformed reading",
				zap.String("device_id", device.ID),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		valid = append(valid, reading)
	}

	if len(valid) > 0 {
		if err := s.repo.InsertBatch(ctx, device.ID, valid); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store readings")
		}
	}

	if s.metrics != nil {
		s.metrics.ReadingsRecorded(len(valid))
		s.metrics.ReadingsSkipped(skipped)
	}
	s.invalidateAggregates(ctx, device.ID)

	return &models.IngestResult{
		DeviceID:      device.ID,
		RecordedCount: len(valid),
		SkippedCount:  skipped,
		TotalReadings: len(req.Readings),
	}, nil
}

// resolveDevice finds the target device by MAC or id. A MAC never seen
// before registers the device on the spot, so hardware can report without a
// prior bookmark.
func (s *SensorService) resolveDevice(ctx context.Context, req models.BLEBatchRequest) (*models.Device, error) {
	if req.MacAddress != nil && strings.TrimSpace(*req.MacAddress) != "" {
		mac, err := NormalizeMAC(*req.MacAddress)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "malformed MAC address")
		}
		device, err := s.devices.FindByMAC(ctx, mac)
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up device")
		}

		device = &models.Device{MacAddress: &mac, IsActive: true}
		if err := s.devices.Create(ctx, device); err != nil {
			if repository.IsUniqueViolation(err) {
				if winner, findErr := s.devices.FindByMAC(ctx, mac); findErr == nil {
					return winner, nil
				}
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register device")
		}
		return device, nil
	}

	if req.DeviceID == nil || *req.DeviceID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a device id or MAC address is required")
	}
	device, err := s.devices.FindByID(ctx, *req.DeviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "device not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up device")
	}
	return device, nil
}

// QueryRange returns readings within an inclusive time window. The caller
// must be the owner or a member of a classroom the device is assigned to.
func (s *SensorService) QueryRange(ctx context.Context, userID string, q models.DataRangeQuery) ([]models.DeviceData, error) {
	if err := s.requireReader(ctx, q.DeviceID, userID); err != nil {
		return nil, err
	}
	return s.queryRange(ctx, q)
}

func (s *SensorService) queryRange(ctx context.Context, q models.DataRangeQuery) ([]models.DeviceData, error) {
	if q.Start != nil && q.End != nil && q.End.Before(*q.Start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end must not precede start")
	}

	rows, err := s.repo.Range(ctx, q)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to query readings")
	}
	return rows, nil
}

// Latest returns the most recent reading, or nil when the device has never
// reported. A silent device is not an error. Access rules match QueryRange.
func (s *SensorService) Latest(ctx context.Context, userID, deviceID string) (*models.DeviceData, error) {
	if err := s.requireReader(ctx, deviceID, userID); err != nil {
		return nil, err
	}
	return s.latest(ctx, deviceID)
}

func (s *SensorService) latest(ctx context.Context, deviceID string) (*models.DeviceData, error) {
	row, err := s.repo.Latest(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to query latest reading")
	}
	return row, nil
}

// QueryRangeAnonymous serves the unauthenticated read path. Only devices
// with a public assignment somewhere are readable this way.
func (s *SensorService) QueryRangeAnonymous(ctx context.Context, q models.DataRangeQuery) ([]models.DeviceData, error) {
	if _, err := s.requireDevice(ctx, q.DeviceID); err != nil {
		return nil, err
	}
	if err := s.requirePublic(ctx, q.DeviceID); err != nil {
		return nil, err
	}
	return s.queryRange(ctx, q)
}

// LatestAnonymous is the unauthenticated counterpart of Latest.
func (s *SensorService) LatestAnonymous(ctx context.Context, deviceID string) (*models.DeviceData, error) {
	if _, err := s.requireDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	if err := s.requirePublic(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.latest(ctx, deviceID)
}

// Aggregate summarises a device's columns, looking the device up by MAC or
// id. Snapshots are cached with a TTL and dropped on ingest.
func (s *SensorService) Aggregate(ctx context.Context, mac, deviceID string, sensorType *models.SensorType) ([]models.SensorAggregate, error) {
	var device *models.Device
	var err error

	switch {
	case mac != "":
		normalised, macErr := NormalizeMAC(mac)
		if macErr != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "malformed MAC address")
		}
		device, err = s.devices.FindByMAC(ctx, normalised)
	case deviceID != "":
		device, err = s.devices.FindByID(ctx, deviceID)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "a device id or MAC address is required")
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "device not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up device")
	}

	if sensorType != nil && !sensorType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown sensor type")
	}

	key := s.aggregateKey(device.ID, sensorType)
	if s.cache != nil {
		var cached []models.SensorAggregate
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			if s.metrics != nil {
				s.metrics.CacheHit()
			}
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("aggregate cache read failed", zap.String("key", key), zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.CacheMiss()
		}
	}

	aggregates, err := s.repo.Aggregates(ctx, device.ID, sensorType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate readings")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, aggregates, s.config.AggregateCacheTTL); err != nil {
			s.logger.Warn("aggregate cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return aggregates, nil
}

func (s *SensorService) aggregateKey(deviceID string, sensorType *models.SensorType) string {
	suffix := "all"
	if sensorType != nil {
		suffix = string(*sensorType)
	}
	return fmt.Sprintf("device:aggregate:%s:%s", deviceID, suffix)
}

func (s *SensorService) invalidateAggregates(ctx context.Context, deviceID string) {
	if s.cache == nil {
		return
	}
	pattern := fmt.Sprintf("device:aggregate:%s:*", deviceID)
	if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("aggregate cache invalidation failed", zap.String("device_id", deviceID), zap.Error(err))
	}
}

func (s *SensorService) requireDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "device not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up device")
	}
	return device, nil
}

// requireReader checks that the caller may read a device's series: the
// device must exist and be assigned to a classroom the caller owns or is a
// member of.
func (s *SensorService) requireReader(ctx context.Context, deviceID, userID string) error {
	if _, err := s.requireDevice(ctx, deviceID); err != nil {
		return err
	}

	classrooms, err := s.devices.AssignmentClassrooms(ctx, deviceID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up device assignments")
	}
	for _, classroomID := range classrooms {
		allowed, err := s.classes.CanView(ctx, classroomID, userID)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "device is not assigned to any of your classrooms")
}

func (s *SensorService) requirePublic(ctx context.Context, deviceID string) error {
	public, err := s.devices.HasPublicAssignment(ctx, deviceID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check device visibility")
	}
	if !public {
		return appErrors.Clone(appErrors.ErrForbidden, "device is not publicly shared")
	}
	return nil
}
