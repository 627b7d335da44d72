package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/alkime/voiceprint/internal/verification"
	"github.com/gin-gonic/gin"
)

// maxEnrollmentBytes bounds an uploaded sample (about a minute of 16kHz
// mono PCM).
const maxEnrollmentBytes = 2 << 20

type createProfileRequest struct {
	Locale string `json:"locale"`
}

func (s *Server) handleCreateProfile(c *gin.Context) {
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Locale == "" {
		writeError(c, http.StatusBadRequest, "BadRequest", "Locale is required.")
		return
	}

	id, err := s.service.CreateProfile(c.Request.Context())
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	s.logger.Info("created verification profile", "profileId", id, "locale", req.Locale)

	c.JSON(http.StatusOK, gin.H{"verificationProfileId": id})
}

func (s *Server) handleGetProfile(c *gin.Context) {
	p, err := s.service.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	required := s.service.RequiredEnrollments()
	status := "Enrolling"
	if p.RemainingEnrollments == 0 {
		status = "Enrolled"
	}

	c.JSON(http.StatusOK, gin.H{
		"verificationProfileId":     p.ID,
		"locale":                    s.config.Locale,
		"enrollmentsCount":          required - p.RemainingEnrollments,
		"remainingEnrollmentsCount": p.RemainingEnrollments,
		"enrollmentStatus":          status,
	})
}

func (s *Server) handleEnroll(c *gin.Context) {
	audio, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEnrollmentBytes+1))
	if err != nil {
		writeError(c, http.StatusBadRequest, "BadRequest", "Could not read audio.")
		return
	}

	if len(audio) > maxEnrollmentBytes {
		writeError(c, http.StatusRequestEntityTooLarge, "BadRequest", "Audio too long.")
		return
	}

	id := c.Param("id")

	res, err := s.service.SubmitEnrollment(c.Request.Context(), id, audio)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	required := s.service.RequiredEnrollments()
	status := "Enrolling"
	if res.Completed() {
		status = "Enrolled"
	}

	s.logger.Info("accepted enrollment", "profileId", id, "remainingEnrollments", res.RemainingEnrollments)

	c.JSON(http.StatusOK, gin.H{
		"enrollmentStatus":     status,
		"enrollmentsCount":     required - res.RemainingEnrollments,
		"remainingEnrollments": res.RemainingEnrollments,
		"phrase":               res.Phrase,
	})
}

func (s *Server) handleReset(c *gin.Context) {
	if err := s.service.ResetEnrollments(c.Request.Context(), c.Param("id")); err != nil {
		s.writeServiceError(c, err)
		return
	}

	c.Status(http.StatusOK)
}

func (s *Server) handleListPhrases(c *gin.Context) {
	phrases, err := s.service.ListPhrases(c.Request.Context())
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	out := make([]gin.H, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, gin.H{"phrase": p})
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) writeServiceError(c *gin.Context, err error) {
	var recErr *verification.RecognitionError

	switch {
	case errors.Is(err, verification.ErrNotFound):
		writeError(c, http.StatusNotFound, "NotFound", "Resource profile is not found.")
	case errors.As(err, &recErr):
		writeError(c, http.StatusBadRequest, "BadRequest", recErr.Reason)
	default:
		s.logger.Error("verification service failed", "path", c.FullPath(), "error", err)
		writeError(c, http.StatusInternalServerError, "InternalServerError", "Internal server error.")
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
