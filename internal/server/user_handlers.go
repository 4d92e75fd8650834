package server

import (
	"github.com/gofiber/fiber/v2"

	"sologram/internal/middleware"
	"sologram/internal/models"
	"sologram/internal/service"
)

// GetMyProfile returns the caller's profile.
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	ident := middleware.Identity(c)
	if ident == nil {
		return respondErr(c, models.ErrNotSignedIn)
	}
	profile, err := s.userService.Profile(c.UserContext(), ident.UID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(profile)
}

// UpdateMyProfile merges the submitted fields into the caller's profile.
func (s *Server) UpdateMyProfile(c *fiber.Ctx) error {
	var input service.UpdateProfileInput
	if err := c.BodyParser(&input); err != nil {
		return respondErr(c, models.NewValidationError("invalid request body"))
	}
	profile, err := s.userService.UpdateProfile(c.UserContext(), middleware.Identity(c), input)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(profile)
}

// GetUsers lists all other users, for picking a conversation partner.
func (s *Server) GetUsers(c *fiber.Ctx) error {
	users, err := s.userService.Users(c.UserContext(), middleware.Identity(c))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(users)
}

// GetUserProfile returns another user's profile.
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	profile, err := s.userService.Profile(c.UserContext(), c.Params("uid"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(profile)
}

// GetUserPosts returns one author's posts, newest first.
func (s *Server) GetUserPosts(c *fiber.Ctx) error {
	posts, err := s.postService.AuthorFeed(c.UserContext(), c.Params("uid"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(posts)
}
