package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	"github.com/pbit-labs/pbit-classroom-api/internal/service"
	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
	"github.com/pbit-labs/pbit-classroom-api/pkg/response"
)

// SensorHandler exposes reading ingest and query endpoints.
type SensorHandler struct {
	sensors *service.SensorService
	auth    *service.AuthService
	exports *service.ExportService
}

// NewSensorHandler constructs a sensor handler.
func NewSensorHandler(sensors *service.SensorService, auth *service.AuthService, exports *service.ExportService) *SensorHandler {
	return &SensorHandler{sensors: sensors, auth: auth, exports: exports}
}

// RecordBLEBatch godoc
// @Summary Record a batch of sensor readings
// @Description Accepts a bearer token or inline first_name and pin_code credentials
// @Tags Sensor data
// @Accept json
// @Produce json
// @Param payload body models.BLEBatchRequest true "Reading batch"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classroom-device/record-ble-batch [post]
func (h *SensorHandler) RecordBLEBatch(c *gin.Context) {
	var req models.BLEBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid batch payload"))
		return
	}

	if claims := claimsFromContext(c); claims != nil {
		result, err := h.sensors.IngestBatch(c.Request.Context(), claims.UserID, req)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, "batch recorded", result)
		return
	}

	if req.FirstName == nil || req.PinCode == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "a bearer token or first_name and pin_code are required"))
		return
	}

	student, err := h.auth.VerifyAnonymous(c.Request.Context(), models.AnonymousCredentials{
		ClassID:   req.ClassroomID,
		FirstName: *req.FirstName,
		PinCode:   *req.PinCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.sensors.IngestBatchAnonymous(c.Request.Context(), student, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, "batch recorded", result)
}

// Data godoc
// @Summary Query readings by time range
// @Tags Sensor data
// @Produce json
// @Param device_id path string true "Device ID"
// @Param start query string false "RFC 3339 lower bound"
// @Param end query string false "RFC 3339 upper bound"
// @Param limit query int false "Row limit, capped at 1000"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classroom-device/{device_id}/data [get]
func (h *SensorHandler) Data(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	query, err := h.rangeQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	rows, err := h.sensors.QueryRange(c.Request.Context(), claims.UserID, query)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "device readings", rows)
}

// Latest godoc
// @Summary Latest reading for a device
// @Description Returns null data when the device has never reported
// @Tags Sensor data
// @Produce json
// @Param device_id path string true "Device ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classroom-device/{device_id}/data/latest [get]
func (h *SensorHandler) Latest(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	row, err := h.sensors.Latest(c.Request.Context(), claims.UserID, c.Param("device_id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "latest reading", row)
}

// ExportData godoc
// @Summary Export readings as CSV
// @Tags Sensor data
// @Produce text/csv
// @Param device_id path string true "Device ID"
// @Param start query string false "RFC 3339 lower bound"
// @Param end query string false "RFC 3339 upper bound"
// @Param limit query int false "Row limit, capped at 1000"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classroom-device/{device_id}/data/export [get]
func (h *SensorHandler) ExportData(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	query, err := h.rangeQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	payload, filename, err := h.exports.ReadingsCSV(c.Request.Context(), claims.UserID, query)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "text/csv", payload)
}

// DataAnonymous godoc
// @Summary Query readings without authentication
// @Description Only devices with a public assignment are readable this way
// @Tags Sensor data
// @Produce json
// @Param device_id path string true "Device ID"
// @Param start query string false "RFC 3339 lower bound"
// @Param end query string false "RFC 3339 upper bound"
// @Param limit query int false "Row limit, capped at 1000"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classroom-device/{device_id}/data/anonymous [get]
func (h *SensorHandler) DataAnonymous(c *gin.Context) {
	query, err := h.rangeQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	rows, err := h.sensors.QueryRangeAnonymous(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "device readings", rows)
}

// LatestAnonymous godoc
// @Summary Latest reading without authentication
// @Description Only devices with a public assignment are readable this way
// @Tags Sensor data
// @Produce json
// @Param device_id path string true "Device ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classroom-device/{device_id}/data/latest/anonymous [get]
func (h *SensorHandler) LatestAnonymous(c *gin.Context) {
	row, err := h.sensors.LatestAnonymous(c.Request.Context(), c.Param("device_id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "latest reading", row)
}

func (h *SensorHandler) rangeQuery(c *gin.Context) (models.DataRangeQuery, error) {
	query := models.DataRangeQuery{
		DeviceID: c.Param("device_id"),
		Order:    c.Query("order"),
	}

	if raw := c.Query("start"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, appErrors.Clone(appErrors.ErrValidation, "start must be RFC 3339")
		}
		query.Start = &start
	}
	if raw := c.Query("end"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, appErrors.Clone(appErrors.ErrValidation, "end must be RFC 3339")
		}
		query.End = &end
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return query, appErrors.Clone(appErrors.ErrValidation, "limit must be a non-negative integer")
		}
		query.Limit = limit
	}

	return query, nil
}
