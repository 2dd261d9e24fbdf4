package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
	"github.com/pbit-labs/pbit-classroom-api/pkg/export"
)

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type exportClassService interface {
	Get(ctx context.Context, classID string) (*models.Class, error)
	ListMembers(ctx context.Context, classID, viewerID, sortBy, order string) ([]models.MemberInfo, error)
	CanManage(ctx context.Context, classID, userID string) (bool, error)
	CanView(ctx context.Context, classID, userID string) (bool, error)
}

type exportSensorService interface {
	QueryRange(ctx context.Context, userID string, q models.DataRangeQuery) ([]models.DeviceData, error)
}

// ExportService renders classroom rosters as PDF and reading ranges as CSV.
type ExportService struct {
	classes exportClassService
	sensors exportSensorService
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
}

// NewExportService constructs an ExportService instance.
func NewExportService(classes exportClassService, sensors exportSensorService, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{classes: classes, sensors: sensors, csv: csv, pdf: pdf, logger: logger}
}

// RosterPDF renders the class roster as a PDF document. Owner only.
func (s *ExportService) RosterPDF(ctx context.Context, classID, callerID string) ([]byte, string, error) {
	owner, err := s.classes.CanManage(ctx, classID, callerID)
	if err != nil {
		return nil, "", err
	}
	if !owner {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "only the class owner may export the roster")
	}

	class, err := s.classes.Get(ctx, classID)
	if err != nil {
		return nil, "", err
	}
	members, err := s.classes.ListMembers(ctx, classID, callerID, "joined_at", "asc")
	if err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{
		Headers: []string{"Name", "Type", "Joined"},
		Rows:    make([]map[string]string, 0, len(members)),
	}
	for _, member := range members {
		name := member.FirstName
		if member.LastName != "" {
			name += " " + member.LastName
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Name":   name,
			"Type":   string(member.StudentType),
			"Joined": member.JoinedAt.Format("2006-01-02 15:04"),
		})
	}

	title := fmt.Sprintf("%s - %s roster", class.Name, class.Subject)
	payload, err := s.pdf.Render(dataset, title)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}

	filename := fmt.Sprintf("roster-%s-%s.pdf", classID, time.Now().UTC().Format("20060102"))
	return payload, filename, nil
}

// ReadingsCSV renders a device's reading range as CSV. Access rules match
// the underlying range query.
func (s *ExportService) ReadingsCSV(ctx context.Context, callerID string, q models.DataRangeQuery) ([]byte, string, error) {
	readings, err := s.sensors.QueryRange(ctx, callerID, q)
	if err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{
		Headers: []string{"timestamp", "temperature", "thermometer", "humidity", "moisture", "light", "sound", "battery_level"},
		Rows:    make([]map[string]string, 0, len(readings)),
	}
	for _, reading := range readings {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"timestamp":     reading.Timestamp.UTC().Format(time.RFC3339),
			"temperature":   formatValue(reading.Temperature),
			"thermometer":   formatValue(reading.Thermometer),
			"humidity":      formatValue(reading.Humidity),
			"moisture":      formatValue(reading.Moisture),
			"light":         formatValue(reading.Light),
			"sound":         formatValue(reading.Sound),
			"battery_level": formatValue(reading.BatteryLevel),
		})
	}

	payload, err := s.csv.Render(dataset)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render readings")
	}

	filename := fmt.Sprintf("readings-%s-%s.csv", q.DeviceID, time.Now().UTC().Format("20060102"))
	return payload, filename, nil
}

func formatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
