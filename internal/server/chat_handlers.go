package server

import (
	"github.com/gofiber/fiber/v2"

	"sologram/internal/middleware"
	"sologram/internal/models"
)

// GetMessages returns the conversation with the user named in the path,
// oldest first.
func (s *Server) GetMessages(c *fiber.Ctx) error {
	msgs, err := s.chatService.Messages(c.UserContext(), middleware.Identity(c), c.Params("uid"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(msgs)
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessage appends a message to the conversation with the user named in
// the path.
func (s *Server) SendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, models.NewValidationError("invalid request body"))
	}
	id, err := s.chatService.SendMessage(c.UserContext(), middleware.Identity(c), c.Params("uid"), req.Text)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}
