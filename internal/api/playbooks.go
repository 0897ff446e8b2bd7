package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/t77yq/playbook-orchestrator/internal/model"
)

type createPlaybookRequest struct {
	Name string `json:"name" binding:"required"`
	Path string `json:"path" binding:"required"`
}

func (a *API) createPlaybook(c *gin.Context) {
	var req createPlaybookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, kindValidation, err)
		return
	}

	playbook := &model.Playbook{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Path:      req.Path,
		Inventory: "dynamic",
		CreatedAt: time.Now(),
	}

	if err := a.store.CreatePlaybook(c.Request.Context(), playbook); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, playbook)
}

func (a *API) listPlaybooks(c *gin.Context) {
	playbooks, err := a.store.ListPlaybooks(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, playbooks)
}

func (a *API) getPlaybook(c *gin.Context) {
	playbook, err := a.store.GetPlaybook(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, playbook)
}

func (a *API) countPlaybooks(c *gin.Context) {
	count, err := a.store.CountPlaybooks(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (a *API) deletePlaybook(c *gin.Context) {
	if err := a.store.DeletePlaybook(c.Request.Context(), c.Param("id")); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type runPlaybookRequest struct {
	ServerIDs []string `json:"server_ids"`
	DryRun    bool     `json:"dry_run"`
}

func (a *API) runPlaybook(c *gin.Context) {
	var req runPlaybookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, kindValidation, err)
		return
	}

	executionID, err := a.orchestrator.Submit(
		c.Request.Context(), c.Param("id"), req.ServerIDs, userID(c), req.DryRun)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"execution_id": executionID,
		"status":       "queued",
	})
}
