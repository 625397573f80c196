package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

type NotificationService interface {
	Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	GetStatus(ctx context.Context, id string) (*domain.Notification, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications/:id", h.GetNotification)

	return nil
}

type createNotificationRequest struct {
	Channel   string          `json:"channel"`
	Recipient string          `json:"recipient"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type createNotificationResponse struct {
	NotificationID string    `json:"notificationId"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

type notificationStatusResponse struct {
	NotificationID string            `json:"notificationId"`
	Channel        string            `json:"channel"`
	Recipient      string            `json:"recipient"`
	Message        string            `json:"message"`
	Status         string            `json:"status"`
	Retries        int               `json:"retries"`
	Errors         *string           `json:"errors"`
	Metadata       json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      *time.Time        `json:"updatedAt,omitempty"`
	Attempts       []attemptResponse `json:"attempts"`
}

type attemptResponse struct {
	ID           string    `json:"id"`
	AttemptedAt  time.Time `json:"attemptedAt"`
	Status       string    `json:"status"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	RetryNumber  int       `json:"retryNumber"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	notification, err := requestToDomainNotification(req)
	if err != nil {
		return err
	}

	created, err := h.service.Create(c.UserContext(), &notification)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(createNotificationResponse{
		NotificationID: created.ID,
		Status:         created.Status.String(),
		CreatedAt:      created.CreatedAt,
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.service.GetStatus(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toStatusResponse(notification))
}

func requestToDomainNotification(req createNotificationRequest) (domain.Notification, error) {
	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return domain.Notification{}, err
	}

	n := domain.Notification{
		Channel:   channel,
		Recipient: strings.TrimSpace(req.Recipient),
		Message:   req.Message,
	}
	if len(req.Metadata) > 0 && string(req.Metadata) != "null" {
		n.Metadata = []byte(req.Metadata)
	}

	return n, nil
}

func toStatusResponse(n *domain.Notification) notificationStatusResponse {
	resp := notificationStatusResponse{
		NotificationID: n.ID,
		Channel:        n.Channel.String(),
		Recipient:      n.Recipient,
		Message:        n.Message,
		Status:         n.Status.String(),
		Retries:        n.Retries,
		Errors:         n.Errors,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
		Attempts:       make([]attemptResponse, 0, len(n.Attempts)),
	}
	if len(n.Metadata) > 0 {
		resp.Metadata = json.RawMessage(n.Metadata)
	}

	for _, a := range n.Attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			ID:           a.ID,
			AttemptedAt:  a.AttemptedAt,
			Status:       a.Status.String(),
			ErrorMessage: a.ErrorMessage,
			RetryNumber:  a.RetryNumber,
		})
	}

	return resp
}
