package server

import (
	"io"

	"github.com/gofiber/fiber/v2"

	"sologram/internal/middleware"
	"sologram/internal/models"
	"sologram/internal/service"
)

func respondErr(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, models.StatusForError(err), err)
}

// GetPosts returns the global feed, newest first.
func (s *Server) GetPosts(c *fiber.Ctx) error {
	posts, err := s.postService.Feed(c.UserContext())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(posts)
}

// GetPost returns a single post by id.
func (s *Server) GetPost(c *fiber.Ctx) error {
	post, err := s.postRepo.GetPost(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(post)
}

// CreatePost accepts a multipart upload with an "image" file field, uploads
// the image, and writes the post.
func (s *Server) CreatePost(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		return respondErr(c, models.NewValidationError("image file is required"))
	}
	file, err := fileHeader.Open()
	if err != nil {
		return respondErr(c, models.NewValidationError("image file could not be read"))
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return respondErr(c, models.NewInternalError(err))
	}

	post, err := s.postService.CreatePost(c.UserContext(), middleware.Identity(c), service.CreatePostInput{
		Image:    data,
		Filename: fileHeader.Filename,
	})
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// LikePost toggles the caller's like on a post and reports the new state.
func (s *Server) LikePost(c *fiber.Ctx) error {
	liked, err := s.postService.ToggleLike(c.UserContext(), middleware.Identity(c), c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"liked": liked})
}

// DeletePost removes a post. Author only.
func (s *Server) DeletePost(c *fiber.Ctx) error {
	if err := s.postService.DeletePost(c.UserContext(), middleware.Identity(c), c.Params("id")); err != nil {
		return respondErr(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetComments returns a post's comments, newest first.
func (s *Server) GetComments(c *fiber.Ctx) error {
	comments, err := s.postService.Comments(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(comments)
}

type createCommentRequest struct {
	Text string `json:"text"`
}

// CreateComment adds a comment to a post and returns the updated list.
func (s *Server) CreateComment(c *fiber.Ctx) error {
	var req createCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, models.NewValidationError("invalid request body"))
	}
	comments, err := s.postService.AddComment(c.UserContext(), middleware.Identity(c), c.Params("id"), req.Text)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comments)
}
