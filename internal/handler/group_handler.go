package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	"github.com/pbit-labs/pbit-classroom-api/internal/service"
	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
	"github.com/pbit-labs/pbit-classroom-api/pkg/response"
)

// GroupHandler exposes classroom group endpoints.
type GroupHandler struct {
	service *service.GroupService
}

// NewGroupHandler constructs a group handler.
func NewGroupHandler(svc *service.GroupService) *GroupHandler {
	return &GroupHandler{service: svc}
}

// Create godoc
// @Summary Create a group
// @Tags Groups
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body models.CreateGroupRequest true "Group payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classroom/{id}/groups [post]
func (h *GroupHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid group payload"))
		return
	}

	group, err := h.service.Create(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, "group created", group)
}

// List godoc
// @Summary List classroom groups with member counts
// @Tags Groups
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classroom/{id}/groups [get]
func (h *GroupHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	groups, err := h.service.List(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "classroom groups", groups)
}

// Members godoc
// @Summary List a group's members
// @Tags Groups
// @Produce json
// @Param id path string true "Class ID"
// @Param group_id path string true "Group ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classroom/{id}/groups/{group_id} [get]
func (h *GroupHandler) Members(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	members, err := h.service.Members(c.Request.Context(), claims.UserID, c.Param("id"), c.Param("group_id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "group members", members)
}

// Update godoc
// @Summary Rename a group or change its icon
// @Tags Groups
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param group_id path string true "Group ID"
// @Param payload body models.UpdateGroupRequest true "Group payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classroom/{id}/groups/{group_id} [put]
func (h *GroupHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid group payload"))
		return
	}

	group, err := h.service.Update(c.Request.Context(), claims.UserID, c.Param("id"), c.Param("group_id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "group updated", group)
}

// Delete godoc
// @Summary Delete a group and its memberships
// @Tags Groups
// @Produce json
// @Param id path string true "Class ID"
// @Param group_id path string true "Group ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classroom/{id}/groups/{group_id} [delete]
func (h *GroupHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), claims.UserID, c.Param("id"), c.Param("group_id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// AddStudent godoc
// @Summary Add a student to a group
// @Description A student can be in at most one group per classroom
// @Tags Groups
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param group_id path string true "Group ID"
// @Param payload body models.AddGroupStudentRequest true "Membership payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /classroom/{id}/groups/{group_id}/students [post]
func (h *GroupHandler) AddStudent(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.AddGroupStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid membership payload"))
		return
	}

	membership, err := h.service.AddStudent(c.Request.Context(), claims.UserID, c.Param("id"), c.Param("group_id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, "student added to group", membership)
}

// RemoveStudent godoc
// @Summary Remove a student from a group
// @Tags Groups
// @Produce json
// @Param id path string true "Class ID"
// @Param group_id path string true "Group ID"
// @Param student_id path string true "Student ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classroom/{id}/groups/{group_id}/students/{student_id} [delete]
func (h *GroupHandler) RemoveStudent(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.RemoveStudent(c.Request.Context(), claims.UserID, c.Param("id"), c.Param("group_id"), c.Param("student_id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// RandomDistribute godoc
// @Summary Distribute ungrouped students across groups
// @Description Shuffles the classroom's ungrouped students and deals them round-robin
// @Tags Groups
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /classroom/{id}/groups/random-distribute [post]
func (h *GroupHandler) RandomDistribute(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.service.RandomDistribute(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "students distributed", result)
}
