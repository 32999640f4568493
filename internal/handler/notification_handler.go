package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sos-safeguard-api/internal/dto"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/pkg/response"
)

type notificationService interface {
	Inbox(ctx context.Context, p models.Principal, query dto.NotificationQuery) ([]models.Notification, error)
	MarkRead(ctx context.Context, p models.Principal, id string) error
}

// NotificationHandler serves the caller's in-app inbox.
type NotificationHandler struct {
	service notificationService
}

// NewNotificationHandler builds a new handler.
func NewNotificationHandler(service notificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// List godoc
// @Summary List my notifications
// @Tags Notifications
// @Produce json
// @Param unread query bool false "Only unread"
// @Param limit query int false "Maximum items"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	items, err := h.service.Inbox(c.Request.Context(), p, dto.NotificationQuery{
		UnreadOnly: queryBool(c, "unread"),
		Limit:      queryInt(c, "limit", 50),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// MarkRead godoc
// @Summary Mark a notification as read
// @Tags Notifications
// @Param id path string true "Notification ID"
// @Success 204
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), p, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
