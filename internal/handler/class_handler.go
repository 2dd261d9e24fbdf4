package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	"github.com/pbit-labs/pbit-classroom-api/internal/service"
	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
	"github.com/pbit-labs/pbit-classroom-api/pkg/response"
)

// ClassHandler exposes classroom lifecycle and membership endpoints.
type ClassHandler struct {
	service *service.ClassService
	exports *service.ExportService
}

// NewClassHandler constructs a class handler.
func NewClassHandler(svc *service.ClassService, exports *service.ExportService) *ClassHandler {
	return &ClassHandler{service: svc, exports: exports}
}

// Create godoc
// @Summary Create classroom
// @Description Create a classroom with a generated join passphrase
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body models.CreateClassRequest true "Class payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /class/create [post]
func (h *ClassHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid class payload"))
		return
	}

	class, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, "class created", class)
}

// Join godoc
// @Summary Join classroom
// @Description Join a classroom by passphrase as a registered user
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body models.JoinClassRequest true "Join payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /class/join [post]
func (h *ClassHandler) Join(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.JoinClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid join payload"))
		return
	}

	class, err := h.service.Join(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "joined class", class)
}

// JoinAnonymous godoc
// @Summary Join classroom anonymously
// @Description Join with a first name and four digit PIN instead of an account
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body models.JoinAnonymousRequest true "Anonymous join payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /class/join-anonymous [post]
func (h *ClassHandler) JoinAnonymous(c *gin.Context) {
	var req models.JoinAnonymousRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid join payload"))
		return
	}

	result, err := h.service.JoinAnonymous(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	message := "joined class"
	if result.Reentry {
		message = "rejoined class"
	}
	response.JSON(c, http.StatusOK, message, result)
}

// Owned godoc
// @Summary List owned classrooms
// @Tags Classes
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /class/owned [get]
func (h *ClassHandler) Owned(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	classes, err := h.service.Owned(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "owned classes", classes)
}

// Enrolled godoc
// @Summary List enrolled classrooms
// @Tags Classes
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /class/enrolled [get]
func (h *ClassHandler) Enrolled(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	classes, err := h.service.Enrolled(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "enrolled classes", classes)
}

// Members godoc
// @Summary List classroom members
// @Description Registered members and anonymous students; PINs are visible to the owner only
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Param sort query string false "Sort column (joined_at, first_name, user_id)"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /class/{id}/members [get]
func (h *ClassHandler) Members(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	members, err := h.service.ListMembers(c.Request.Context(), c.Param("id"), claims.UserID, c.Query("sort"), c.Query("order"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "class members", members)
}

// ExportMembers godoc
// @Summary Export classroom roster as PDF
// @Tags Classes
// @Produce application/pdf
// @Param id path string true "Class ID"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /class/{id}/members/export [get]
func (h *ClassHandler) ExportMembers(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	payload, filename, err := h.exports.RosterPDF(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/pdf", payload)
}

// ResetStudentPIN godoc
// @Summary Reset an anonymous student's PIN
// @Description Clears the stored PIN; the student sets a new one on next join
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Param student_id path string true "Student ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /class/{id}/reset-student-pin/{student_id} [post]
func (h *ClassHandler) ResetStudentPIN(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.ResetStudentPIN(c.Request.Context(), c.Param("id"), c.Param("student_id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// RemoveStudent godoc
// @Summary Remove a student from the classroom
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Param student_id path string true "Student ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /class/{id}/remove-student/{student_id} [delete]
func (h *ClassHandler) RemoveStudent(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.RemoveStudent(c.Request.Context(), c.Param("id"), c.Param("student_id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Leave godoc
// @Summary Leave a classroom
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /class/{id}/leave [delete]
func (h *ClassHandler) Leave(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Leave(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Delete godoc
// @Summary Delete a classroom
// @Description Removes the classroom, its members, anonymous students, groups and assignments
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /class/{id} [delete]
func (h *ClassHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
