package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/t77yq/playbook-orchestrator/internal/model"
)

func (a *API) getExecution(c *gin.Context) {
	execution, err := a.store.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}

	targets, err := a.store.ListTargetResults(c.Request.Context(), execution.ID)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution": execution,
		"targets":   targets,
	})
}

func (a *API) listExecutions(c *gin.Context) {
	executions, err := a.store.ListExecutions(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, executions)
}

func (a *API) listExecutionsByState(c *gin.Context) {
	executions, err := a.store.ListExecutionsByState(c.Request.Context(), model.ExecutionState(c.Param("state")))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, executions)
}

func (a *API) listExecutionsByPlaybook(c *gin.Context) {
	executions, err := a.store.ListExecutionsByPlaybook(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, executions)
}

func (a *API) latestExecution(c *gin.Context) {
	execution, err := a.store.LatestExecutionForPlaybook(c.Request.Context(), c.Param("playbook_id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

func (a *API) countExecutions(c *gin.Context) {
	count, err := a.store.CountExecutions(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (a *API) countExecutionsByState(c *gin.Context) {
	count, err := a.store.CountExecutionsByState(c.Request.Context(), model.ExecutionState(c.Param("state")))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (a *API) countExecutionsByPlaybook(c *gin.Context) {
	count, err := a.store.CountExecutionsByPlaybook(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}
