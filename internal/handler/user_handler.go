package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/pkg/response"
)

type userService interface {
	List(ctx context.Context, p models.Principal, filter models.UserFilter) ([]dto.UserResponse, *models.Pagination, error)
	Get(ctx context.Context, p models.Principal, id string) (*dto.UserResponse, error)
	Create(ctx context.Context, p models.Principal, req dto.CreateUserRequest) (*dto.UserResponse, error)
	UpdateRole(ctx context.Context, p models.Principal, id string, req dto.UpdateRoleRequest) (*dto.UserResponse, error)
	GrantVillages(ctx context.Context, p models.Principal, id string, req dto.GrantVillagesRequest) (*dto.UserResponse, error)
	SetTemporaryRole(ctx context.Context, p models.Principal, id string, req dto.TemporaryRoleRequest) (*dto.UserResponse, error)
	RevokeTemporaryRole(ctx context.Context, p models.Principal, id string) (*dto.UserResponse, error)
	SetActive(ctx context.Context, p models.Principal, id string, req dto.SetActiveRequest) (*dto.UserResponse, error)
	ResetPassword(ctx context.Context, p models.Principal, id string, req dto.ResetPasswordRequest) error
}

// UserHandler handles account administration endpoints.
type UserHandler struct {
	service userService
}

// NewUserHandler constructs a new handler.
func NewUserHandler(service userService) *UserHandler {
	return &UserHandler{service: service}
}

// List godoc
// @Summary List users
// @Tags Users
// @Produce json
// @Param tier query string false "Tier filter"
// @Param villageId query string false "Village filter"
// @Param active query bool false "Active filter"
// @Param search query string false "Search by name or email"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	filter := models.UserFilter{
		VillageID: c.Query("villageId"),
		Search:    c.Query("search"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "pageSize", 20),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	if raw := c.Query("tier"); raw != "" {
		tier := models.Tier(strings.ToUpper(raw))
		filter.Tier = &tier
	}
	if raw := c.Query("active"); raw != "" {
		active := queryBool(c, "active")
		filter.Active = &active
	}

	users, pagination, err := h.service.List(c.Request.Context(), p, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// Get godoc
// @Summary Get a user
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	user, err := h.service.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Create godoc
// @Summary Create a user
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body dto.CreateUserRequest true "User payload"
// @Success 201 {object} response.Envelope
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateUserRequest
	if !bindJSON(c, &req, "invalid user payload") {
		return
	}
	user, err := h.service.Create(c.Request.Context(), p, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user)
}

// UpdateRole godoc
// @Summary Change a user's tier
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body dto.UpdateRoleRequest true "Role payload"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/role [patch]
func (h *UserHandler) UpdateRole(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateRoleRequest
	if !bindJSON(c, &req, "invalid role payload") {
		return
	}
	user, err := h.service.UpdateRole(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// GrantVillages godoc
// @Summary Replace granted villages
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body dto.GrantVillagesRequest true "Villages"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/villages [put]
func (h *UserHandler) GrantVillages(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.GrantVillagesRequest
	if !bindJSON(c, &req, "invalid villages payload") {
		return
	}
	user, err := h.service.GrantVillages(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// SetTemporaryRole godoc
// @Summary Grant a temporary role
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body dto.TemporaryRoleRequest true "Temporary role"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/temporary-role [put]
func (h *UserHandler) SetTemporaryRole(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.TemporaryRoleRequest
	if !bindJSON(c, &req, "invalid temporary role payload") {
		return
	}
	user, err := h.service.SetTemporaryRole(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// RevokeTemporaryRole godoc
// @Summary Revoke a temporary role
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/temporary-role [delete]
func (h *UserHandler) RevokeTemporaryRole(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	user, err := h.service.RevokeTemporaryRole(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// SetActive godoc
// @Summary Activate or deactivate a user
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body dto.SetActiveRequest true "Active flag"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/active [patch]
func (h *UserHandler) SetActive(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.SetActiveRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	user, err := h.service.SetActive(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// ResetPassword godoc
// @Summary Reset another user's password
// @Tags Users
// @Accept json
// @Param id path string true "User ID"
// @Param payload body dto.ResetPasswordRequest true "New password"
// @Success 204
// @Router /users/{id}/password [put]
func (h *UserHandler) ResetPassword(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.ResetPasswordRequest
	if !bindJSON(c, &req, "invalid reset password payload") {
		return
	}
	if err := h.service.ResetPassword(c.Request.Context(), p, c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
