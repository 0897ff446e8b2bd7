package api

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/model"
)

type registerServerRequest struct {
	Name    string `json:"name" binding:"required"`
	Address string `json:"address" binding:"required"`
	SSHUser string `json:"ssh_user" binding:"required"`
	SSHPort int    `json:"ssh_port"`

	// One-time password used for the initial provisioning attempt.
	// Never persisted.
	Password string `json:"password" binding:"required"`
}

func (a *API) registerServer(c *gin.Context) {
	var req registerServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, kindValidation, err)
		return
	}

	if req.SSHPort == 0 {
		req.SSHPort = 22
	}

	server := &model.Server{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Address:   req.Address,
		SSHUser:   req.SSHUser,
		SSHPort:   req.SSHPort,
		Status:    model.ServerStatusOffline,
		Provision: model.ProvisionStatusPending,
		CreatedAt: time.Now(),
	}

	if err := a.store.CreateServer(c.Request.Context(), server); err != nil {
		a.fail(c, err)
		return
	}

	// Provisioning happens off the request path; the caller polls the
	// server record for the outcome. The password is captured for this
	// one attempt only.
	password := req.Password
	go func() {
		// Detached from the request context; the attempt outlives the
		// HTTP response.
		if err := a.provisioner.Provision(context.Background(), server.ID, password); err != nil {
			a.logger.Warn("Initial provisioning attempt failed",
				zap.String("server_id", server.ID),
				zap.Error(err))
		}
	}()

	c.JSON(http.StatusCreated, server)
}

type retryProvisionRequest struct {
	Password string `json:"password" binding:"required"`
}

func (a *API) retryProvision(c *gin.Context) {
	var req retryProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, kindValidation, err)
		return
	}

	id := c.Param("id")
	if err := a.provisioner.RetryProvision(c.Request.Context(), id, req.Password); err != nil {
		a.fail(c, err)
		return
	}

	server, err := a.store.GetServer(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, server)
}

func (a *API) listServers(c *gin.Context) {
	servers, err := a.store.ListServers(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, servers)
}

func (a *API) listServersByStatus(c *gin.Context) {
	servers, err := a.store.ListServersByStatus(c.Request.Context(), model.ServerStatus(c.Param("status")))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, servers)
}

func (a *API) getServer(c *gin.Context) {
	server, err := a.store.GetServer(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, server)
}

func (a *API) countServers(c *gin.Context) {
	count, err := a.store.CountServers(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (a *API) countServersByStatus(c *gin.Context) {
	count, err := a.store.CountServersByStatus(c.Request.Context(), model.ServerStatus(c.Param("status")))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (a *API) refreshServer(c *gin.Context) {
	server, err := a.store.GetServer(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}

	if err := a.checker.Refresh(c.Request.Context(), server); err != nil {
		a.fail(c, err)
		return
	}

	server, err = a.store.GetServer(c.Request.Context(), server.ID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, server)
}

func (a *API) deleteServer(c *gin.Context) {
	server, err := a.store.GetServer(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}

	if err := a.store.DeleteServer(c.Request.Context(), server.ID); err != nil {
		a.fail(c, err)
		return
	}

	// The installed key material is useless once the record is gone.
	if server.KeyPath != "" {
		if err := os.Remove(server.KeyPath); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("Failed to remove private key",
				zap.String("server_id", server.ID),
				zap.Error(err))
		}
		if err := os.Remove(server.KeyPath + ".pub"); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("Failed to remove public key",
				zap.String("server_id", server.ID),
				zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (a *API) serverMetrics(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	if _, err := a.store.GetServer(c.Request.Context(), c.Param("id")); err != nil {
		a.fail(c, err)
		return
	}

	samples, err := a.store.LatestMetrics(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, samples)
}
