package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/podledger/internal/domain"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type NotificationScheduler interface {
	List(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error)
	Due(ctx context.Context, limit int) ([]domain.Notification, error)
	UnreadDueCount(ctx context.Context) (int64, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) (int64, error)
}

type NotificationHandler struct {
	scheduler NotificationScheduler
}

func NewNotificationHandler(scheduler NotificationScheduler) (*NotificationHandler, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("notification scheduler is required")
	}
	return &NotificationHandler{scheduler: scheduler}, nil
}

func RegisterNotificationRoutes(router fiber.Router, scheduler NotificationScheduler) error {
	h, err := NewNotificationHandler(scheduler)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/notifications", h.ListNotifications)
	v1.Post("/notifications/read-all", h.MarkAllRead)
	v1.Post("/notifications/:id/read", h.MarkRead)

	return nil
}

type listNotificationsResponse struct {
	Data      []domain.Notification `json:"data"`
	UnreadDue int64                 `json:"unreadDue"`
}

// ListNotifications lists notifications. due=true narrows to unread ones whose
// time has come; unread=true to all unread ones.
func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxListLimit)
	}

	ctx := c.UserContext()
	var (
		notifications []domain.Notification
		err           error
	)
	if c.QueryBool("due", false) {
		notifications, err = h.scheduler.Due(ctx, limit)
	} else {
		notifications, err = h.scheduler.List(ctx, c.QueryBool("unread", false), limit)
	}
	if err != nil {
		return err
	}

	unreadDue, err := h.scheduler.UnreadDueCount(ctx)
	if err != nil {
		return err
	}

	if notifications == nil {
		notifications = []domain.Notification{}
	}
	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{Data: notifications, UnreadDue: unreadDue})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.scheduler.MarkRead(c.UserContext(), id); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"read":           true,
	})
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	n, err := h.scheduler.MarkAllRead(c.UserContext())
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"updated": n,
	})
}
