package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/batyrsync/batyrd/internal/jobmodel"
)

type createJobRequest struct {
	Layer  string `json:"layer" binding:"required"`
	Filter string `json:"filter"`
}

// createJob implements POST /api/v1/jobs (spec §6): validates the layer
// name against the configured layers, enqueues a QUEUED job and returns its
// id.
func (s *Server) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, ok := s.cfg.LayerByName(req.Layer); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown layer " + req.Layer})
		return
	}

	job := jobmodel.New(req.Layer, req.Filter)
	if err := s.jobs.Insert(job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.queue.Push(job); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "the job queue is shutting down"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": job.ID()})
}

// getJob implements GET /api/v1/jobs/{id} (spec §6).
func (s *Server) getJob(c *gin.Context) {
	job, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job.Snapshot())
}

// listJobs implements GET /api/v1/jobs (spec §6), with an optional ?status=
// filter. JobList.List returns insertion order; this reverses it to the
// most-recent-first order spec §6 requires.
func (s *Server) listJobs(c *gin.Context) {
	var filter *jobmodel.Filter
	if raw := c.Query("status"); raw != "" {
		status := jobmodel.Status(raw)
		filter = &jobmodel.Filter{Status: &status}
	}

	jobs := s.jobs.List(filter)
	records := make([]jobmodel.Record, len(jobs))
	for i, j := range jobs {
		records[len(jobs)-1-i] = j.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{"jobs": records})
}
