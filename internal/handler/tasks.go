package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"followtrader/internal/apperr"
	"followtrader/internal/scheduler"
)

type TaskHandler struct {
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
}

func (h *TaskHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/tasks")
	group.POST("", h.createTask)
	group.GET("", h.listTasks)
	group.GET("/:id", h.getTask)
	group.PATCH("/:id", h.updateTask)
	group.DELETE("/:id", h.deleteTask)
	group.POST("/:id/start", h.startTask)
	group.POST("/:id/stop", h.stopTask)
	group.POST("/:id/run", h.runTask)
}

func (h *TaskHandler) createTask(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	var in scheduler.CreateTaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		Fail(c, apperr.Validationf("invalid request body: %v", err))
		return
	}
	task, err := h.Scheduler.CreateTask(in)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, task, nil)
}

func (h *TaskHandler) listTasks(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	tasks := h.Scheduler.ListTasks()
	Ok(c, tasks, map[string]any{"total": len(tasks)})
}

func (h *TaskHandler) getTask(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	task, err := h.Scheduler.GetTask(c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, task, nil)
}

func (h *TaskHandler) updateTask(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	var in scheduler.UpdateTaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		Fail(c, apperr.Validationf("invalid request body: %v", err))
		return
	}
	task, err := h.Scheduler.UpdateTask(c.Param("id"), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, task, nil)
}

func (h *TaskHandler) deleteTask(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	if err := h.Scheduler.DeleteTask(c.Param("id")); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"deleted": true}, nil)
}

func (h *TaskHandler) startTask(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	task, err := h.Scheduler.StartTask(c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, task, nil)
}

func (h *TaskHandler) stopTask(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	task, err := h.Scheduler.StopTask(c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, task, nil)
}

// runTask triggers one cycle immediately; it still honors the execution
// lock, so a cycle already in flight turns this into a 400.
func (h *TaskHandler) runTask(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	result, err := h.Scheduler.RunNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("manual run failed", zap.String("task_id", c.Param("id")), zap.Error(err))
		}
		Fail(c, err)
		return
	}
	Ok(c, result, nil)
}
