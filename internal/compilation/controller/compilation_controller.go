// Package controller exposes the compilation service over HTTP.
package controller

import (
	"context"
	"strconv"
	"strings"

	"codelab/internal/common/http/middleware"
	"codelab/internal/compilation/model"
	"codelab/internal/compilation/repository"
	"codelab/internal/compilation/service"
	"codelab/internal/sandbox"
	"codelab/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// CompilationService is the part of service.CompilationService the handlers
// call.
type CompilationService interface {
	Submit(ctx context.Context, input service.SubmitInput) (*service.SubmitOutput, error)
	RunFreeform(ctx context.Context, source, language string) (sandbox.ExecutionResult, error)
	GetOrCreateSession(ctx context.Context, userID, activityID string) (*service.SessionView, error)
	GetSession(ctx context.Context, sessionID, studentUserID string) (*service.SessionView, error)
	ListAttempts(ctx context.Context, filter repository.AttemptFilter) ([]model.Attempt, error)
	ListMine(ctx context.Context, userID, activityID string, limit, offset int) ([]model.Attempt, error)
	TopKindsByActivity(ctx context.Context, activityID string) ([]service.SessionKinds, error)
	TopKindsByStudent(ctx context.Context, studentID string) ([]model.KindCount, error)
}

// CompilationController handles compilation HTTP endpoints.
type CompilationController struct {
	svc CompilationService
}

// NewCompilationController creates a new CompilationController.
func NewCompilationController(svc CompilationService) *CompilationController {
	return &CompilationController{svc: svc}
}

// RegisterRoutes mounts every endpoint on api. Callers must install the auth
// middleware on api first.
func RegisterRoutes(api gin.IRouter, h *CompilationController) {
	student := middleware.RequireRoles(middleware.RoleStudent)
	teacher := middleware.RequireRoles(middleware.RoleTeacher)

	api.POST("/compilations/student", student, h.Submit)
	api.POST("/compilations/open", h.RunFreeform)
	api.GET("/compilations", teacher, h.ListAttempts)
	api.GET("/compilations/mine", student, h.ListMine)
	api.GET("/activity-sessions/activity/:activityId", student, h.GetOrCreateSession)
	api.GET("/activity-sessions/:sessionId", h.GetSession)
	api.GET("/outputs/activity/:activityId", teacher, h.TopKindsByActivity)
	api.GET("/outputs/student/:studentId", teacher, h.TopKindsByStudent)
}

// Submit runs a graded attempt for the caller's session.
func (h *CompilationController) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	principal, _ := middleware.CurrentPrincipal(c)
	out, err := h.svc.Submit(c.Request.Context(), service.SubmitInput{
		SessionID:  req.SessionID,
		UserID:     principal.UserID,
		SourceCode: req.CodeValue,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

// RunFreeform runs code outside any session.
func (h *CompilationController) RunFreeform(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	res, err := h.svc.RunFreeform(c.Request.Context(), req.CodeValue, req.Language)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetOrCreateSession returns the caller's session for an activity.
func (h *CompilationController) GetOrCreateSession(c *gin.Context) {
	principal, _ := middleware.CurrentPrincipal(c)
	view, err := h.svc.GetOrCreateSession(c.Request.Context(), principal.UserID, c.Param("activityId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// GetSession returns one session. Students only see their own.
func (h *CompilationController) GetSession(c *gin.Context) {
	principal, _ := middleware.CurrentPrincipal(c)
	owner := ""
	if principal.Role == middleware.RoleStudent {
		owner = principal.UserID
	}
	view, err := h.svc.GetSession(c.Request.Context(), c.Param("sessionId"), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// ListAttempts lists attempts of an activity for teachers.
func (h *CompilationController) ListAttempts(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	attempts, err := h.svc.ListAttempts(c.Request.Context(), repository.AttemptFilter{
		ActivityID: strings.TrimSpace(c.Query("activityId")),
		StudentID:  strings.TrimSpace(c.Query("studentId")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, AttemptListResponse{Items: attempts})
}

// ListMine lists the caller's attempts.
func (h *CompilationController) ListMine(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	principal, _ := middleware.CurrentPrincipal(c)
	attempts, err := h.svc.ListMine(c.Request.Context(), principal.UserID, strings.TrimSpace(c.Query("activityId")), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, AttemptListResponse{Items: attempts})
}

// TopKindsByActivity returns the top error kinds of each session of an
// activity.
func (h *CompilationController) TopKindsByActivity(c *gin.Context) {
	sessions, err := h.svc.TopKindsByActivity(c.Request.Context(), c.Param("activityId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ActivityKindsResponse{Sessions: sessions})
}

// TopKindsByStudent returns a student's top error kinds.
func (h *CompilationController) TopKindsByStudent(c *gin.Context) {
	kinds, err := h.svc.TopKindsByStudent(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, StudentKindsResponse{StudentID: c.Param("studentId"), Kinds: kinds})
}

func pageParams(c *gin.Context) (int, int, bool) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.BadRequest(c, "Invalid limit")
		return 0, 0, false
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		response.BadRequest(c, "Invalid offset")
		return 0, 0, false
	}
	return limit, offset, true
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// SubmitRequest defines the graded submission payload.
type SubmitRequest struct {
	SessionID string `json:"activitySessionId" binding:"required"`
	CodeValue string `json:"codeValue" binding:"required"`
}

// RunRequest defines the free-form run payload.
type RunRequest struct {
	CodeValue string `json:"codeValue" binding:"required"`
	Language  string `json:"language"`
}

// AttemptListResponse wraps attempt listings.
type AttemptListResponse struct {
	Items []model.Attempt `json:"items"`
}

// ActivityKindsResponse is the per-session ranking of an activity.
type ActivityKindsResponse struct {
	Sessions []service.SessionKinds `json:"sessions"`
}

// StudentKindsResponse is the ranking of one student.
type StudentKindsResponse struct {
	StudentID string            `json:"student_id"`
	Kinds     []model.KindCount `json:"kinds"`
}
