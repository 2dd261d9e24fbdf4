package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	"github.com/pbit-labs/pbit-classroom-api/internal/service"
	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
	"github.com/pbit-labs/pbit-classroom-api/pkg/response"
)

// DeviceHandler exposes device bookmark and assignment endpoints.
type DeviceHandler struct {
	devices *service.DeviceService
	sensors *service.SensorService
}

// NewDeviceHandler constructs a device handler.
func NewDeviceHandler(devices *service.DeviceService, sensors *service.SensorService) *DeviceHandler {
	return &DeviceHandler{devices: devices, sensors: sensors}
}

// Register godoc
// @Summary Register or bookmark a device
// @Description Registers the device on first sight and bookmarks it for the caller
// @Tags Devices
// @Accept json
// @Produce json
// @Param payload body models.RegisterDeviceRequest true "Device payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /device/register [post]
func (h *DeviceHandler) Register(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid device payload"))
		return
	}

	bookmark, err := h.devices.RegisterOrBookmark(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, "device bookmarked", bookmark)
}

// Bookmarks godoc
// @Summary List bookmarked devices
// @Tags Devices
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /device/bookmarks [get]
func (h *DeviceHandler) Bookmarks(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	bookmarks, err := h.devices.ListBookmarks(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "bookmarked devices", bookmarks)
}

// RemoveBookmark godoc
// @Summary Remove a device bookmark
// @Description Fails while the caller still has the device assigned in an owned classroom
// @Tags Devices
// @Produce json
// @Param id path string true "Bookmark ID"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /device/bookmarks/{id} [delete]
func (h *DeviceHandler) RemoveBookmark(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.devices.RemoveBookmark(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Delete godoc
// @Summary Delete a device
// @Description Removes the device with its readings, bookmarks and assignments
// @Tags Devices
// @Produce json
// @Param id path string true "Device ID"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /device/{id} [delete]
func (h *DeviceHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.devices.DeleteDevice(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Metrics godoc
// @Summary Aggregate device metrics
// @Description Count, min, max, avg and latest value per sensor column
// @Tags Devices
// @Produce json
// @Param mac query string false "Device MAC address"
// @Param device_id query string false "Device ID"
// @Param sensor_type query string false "Restrict to one sensor column"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /device/metrics [get]
func (h *DeviceHandler) Metrics(c *gin.Context) {
	var sensorType *models.SensorType
	if raw := c.Query("sensor_type"); raw != "" {
		st := models.SensorType(raw)
		if !st.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown sensor type"))
			return
		}
		sensorType = &st
	}

	aggregates, err := h.sensors.Aggregate(c.Request.Context(), c.Query("mac"), c.Query("device_id"), sensorType)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "device metrics", aggregates)
}

// Assign godoc
// @Summary Assign a device to a classroom
// @Description Scope is public, a single student or a group
// @Tags Classroom devices
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body models.AssignDeviceRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /classroom-device/classroom/{id}/assign [post]
func (h *DeviceHandler) Assign(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.AssignDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}

	assignment, err := h.devices.Assign(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, "device assigned", assignment)
}

// UpdateAssignment godoc
// @Summary Change a device assignment's scope
// @Tags Classroom devices
// @Accept json
// @Produce json
// @Param device_id path string true "Device ID"
// @Param payload body models.UpdateAssignmentRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classroom-device/{device_id}/assignment [put]
func (h *DeviceHandler) UpdateAssignment(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UpdateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}

	assignment, err := h.devices.UpdateAssignment(c.Request.Context(), claims.UserID, c.Param("device_id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "assignment updated", assignment)
}

// Unassign godoc
// @Summary Remove a device assignment
// @Tags Classroom devices
// @Produce json
// @Param device_id path string true "Device ID"
// @Param classroom_id query string true "Class ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classroom-device/{device_id}/assignment [delete]
func (h *DeviceHandler) Unassign(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	classroomID := c.Query("classroom_id")
	if classroomID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "classroom_id is required"))
		return
	}

	if err := h.devices.Unassign(c.Request.Context(), claims.UserID, c.Param("device_id"), classroomID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ClassroomDevices godoc
// @Summary List devices visible in a classroom
// @Description The owner sees every assigned device; members see public plus their own and their group's
// @Tags Classroom devices
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classroom-device/classroom/{id}/devices [get]
func (h *DeviceHandler) ClassroomDevices(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	devices, err := h.devices.VisibleDevices(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "classroom devices", devices)
}
