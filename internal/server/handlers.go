package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/go-grader/internal/domain"
	"github.com/ahrav/go-grader/internal/grading"
)

const readyTimeout = 5 * time.Second

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]dependencyStatus, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", "dependency", name, "error", err)
			deps[name] = dependencyStatus{Status: "down", Error: err.Error()}
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = dependencyStatus{Status: "up"}
	}

	overall := "ready"
	if status != http.StatusOK {
		overall = "unavailable"
	}
	c.JSON(status, gin.H{"status": overall, "dependencies": deps})
}

func (s *Server) circuitState(c *gin.Context) {
	service := c.Param("service")
	st := s.deps.Breaker.State(c.Request.Context(), service)
	c.JSON(http.StatusOK, gin.H{
		"service":      service,
		"state":        st.State,
		"failures":     st.Failures,
		"last_failure": st.LastFailure,
	})
}

func (s *Server) circuitReset(c *gin.Context) {
	service := c.Param("service")
	s.deps.Breaker.Reset(c.Request.Context(), service)
	s.logger.Info("circuit reset", "service", service)
	c.Status(http.StatusNoContent)
}

func (s *Server) pricing(c *gin.Context) {
	model := c.Param("model")
	rate := s.deps.Pricer.Rate(c.Request.Context(), model)
	c.JSON(http.StatusOK, gin.H{
		"model":                  model,
		"prompt_per_million":     rate.Prompt,
		"completion_per_million": rate.Completion,
	})
}

func (s *Server) pricingInvalidate(c *gin.Context) {
	s.deps.Pricer.Invalidate(c.Request.Context(), c.Param("model"))
	c.Status(http.StatusNoContent)
}

type gradeRequest struct {
	ActorType  string `json:"actor_type"`
	ActorID    string `json:"actor_id"`
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
	Rubric     string `json:"rubric"`
	Model      string `json:"model"`
}

func bindSubmission(c *gin.Context) (grading.Submission, bool) {
	var req gradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return grading.Submission{}, false
	}
	if req.Text == "" && req.DocumentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text or document_id is required"})
		return grading.Submission{}, false
	}
	return grading.Submission{
		ID:         c.Param("id"),
		Actor:      domain.NewEntityRef(req.ActorType, req.ActorID),
		Text:       req.Text,
		DocumentID: req.DocumentID,
		Rubric:     req.Rubric,
		Model:      req.Model,
	}, true
}

func (s *Server) grade(c *gin.Context) {
	sub, ok := bindSubmission(c)
	if !ok {
		return
	}
	// Ungraded is a normal outcome, not a transport error.
	c.JSON(http.StatusOK, s.deps.Grader.GradeSubmission(c.Request.Context(), sub))
}

func (s *Server) enqueue(c *gin.Context) {
	sub, ok := bindSubmission(c)
	if !ok {
		return
	}
	id, err := s.deps.Enqueuer.Enqueue(c.Request.Context(), sub)
	if err != nil {
		s.logger.Error("failed to enqueue grading", "submission_id", sub.ID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "grading queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"submission_id": sub.ID, "workflow_id": id})
}
