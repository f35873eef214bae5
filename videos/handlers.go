package videos

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reelsmith/reelsmith-api/failure"
	"github.com/reelsmith/reelsmith-api/manager"
	"github.com/reelsmith/reelsmith-api/models"
)

// Handler exposes the task query surface over the task manager.
type Handler struct {
	Manager *manager.Manager
}

func NewHandler(m *manager.Manager) *Handler {
	return &Handler{Manager: m}
}

// CreateVideo starts an asynchronous task and returns its id immediately.
func (h *Handler) CreateVideo(c *gin.Context) {
	var req models.VideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskID, err := h.Manager.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": taskID,
		"status":  models.TaskPending,
	})
}

// CreateVideoSync runs the pipeline inline and blocks until the result or a
// terminal error, bounded by the server's sync timeout.
func (h *Handler) CreateVideoSync(c *gin.Context) {
	var req models.VideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Manager.CreateAndWait(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetVideo returns the task's status and, once terminal, its result or
// error detail.
func (h *Handler) GetVideo(c *gin.Context) {
	task, err := h.Manager.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"task_id":    task.ID,
		"status":     task.Status,
		"created_at": task.CreatedAt,
	}
	switch task.Status {
	case models.TaskCompleted:
		resp["result"] = task.Result()
	case models.TaskFailed:
		resp["error"] = task.Error
		resp["error_kind"] = task.ErrorKind
	}
	c.JSON(http.StatusOK, resp)
}

// CancelVideo aborts a running task. Best-effort: the task transitions to
// failed with a cancelled cause once its pipeline unwinds.
func (h *Handler) CancelVideo(c *gin.Context) {
	if err := h.Manager.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var fe *failure.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case failure.InvalidRequest:
			status = http.StatusBadRequest
		case failure.NotFound:
			status = http.StatusNotFound
		case failure.Cancelled:
			status = http.StatusRequestTimeout
		case failure.UpstreamFormat, failure.Submission, failure.Artifact:
			status = http.StatusBadGateway
		}
	}
	c.JSON(status, gin.H{"error": err.Error(), "error_kind": string(failure.KindOf(err))})
}
