package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/health"
	"github.com/t77yq/playbook-orchestrator/internal/monitor"
	"github.com/t77yq/playbook-orchestrator/internal/orchestrator"
	"github.com/t77yq/playbook-orchestrator/internal/provision"
	"github.com/t77yq/playbook-orchestrator/internal/storage"
)

// Store bundles the persistence interfaces the API reads and writes.
type Store interface {
	storage.ServerStore
	storage.PlaybookStore
	storage.ExecutionStore
	storage.MetricStore
}

// API exposes the orchestrator over HTTP.
type API struct {
	logger       *zap.Logger
	store        Store
	provisioner  *provision.Provisioner
	orchestrator *orchestrator.Orchestrator
	checker      *health.Checker
	hub          *monitor.Hub
}

// New creates a new API
func New(
	store Store,
	provisioner *provision.Provisioner,
	orch *orchestrator.Orchestrator,
	checker *health.Checker,
	hub *monitor.Hub,
	logger *zap.Logger,
) *API {
	return &API{
		logger:       logger.Named("api"),
		store:        store,
		provisioner:  provisioner,
		orchestrator: orch,
		checker:      checker,
		hub:          hub,
	}
}

// SetupRoutes registers all routes on the router
func (a *API) SetupRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	{
		servers := v1.Group("/servers")
		{
			servers.POST("", a.registerServer)
			servers.GET("", a.listServers)
			servers.GET("/count/total", a.countServers)
			servers.GET("/count/by-status/:status", a.countServersByStatus)
			servers.GET("/status/:status", a.listServersByStatus)
			servers.GET("/:id", a.getServer)
			servers.GET("/:id/metrics", a.serverMetrics)
			servers.POST("/:id/provision", a.retryProvision)
			servers.PUT("/:id/refresh", a.refreshServer)
			servers.DELETE("/:id", a.deleteServer)
		}

		playbooks := v1.Group("/playbooks")
		{
			playbooks.POST("", a.createPlaybook)
			playbooks.GET("", a.listPlaybooks)
			playbooks.GET("/count/total", a.countPlaybooks)
			playbooks.GET("/:id", a.getPlaybook)
			playbooks.POST("/:id/run", a.runPlaybook)
			playbooks.DELETE("/:id", a.deletePlaybook)
		}

		executions := v1.Group("/executions")
		{
			executions.GET("", a.listExecutions)
			executions.GET("/count/total", a.countExecutions)
			executions.GET("/count/by-state/:state", a.countExecutionsByState)
			executions.GET("/count/by-playbook/:id", a.countExecutionsByPlaybook)
			executions.GET("/by-state/:state", a.listExecutionsByState)
			executions.GET("/by-playbook/:id", a.listExecutionsByPlaybook)
			executions.GET("/latest/:playbook_id", a.latestExecution)
			executions.GET("/:id", a.getExecution)
		}
	}

	router.GET("/ws/metrics/:id", a.streamMetrics)
}

// errorKind labels error responses so clients can pick the right
// corrective action.
type errorKind string

const (
	kindValidation   errorKind = "validation"
	kindPrecondition errorKind = "precondition"
	kindProvision    errorKind = "provisioning"
	kindInternal     errorKind = "internal"
)

func respondError(c *gin.Context, status int, kind errorKind, err error) {
	c.JSON(status, gin.H{"kind": kind, "detail": err.Error()})
}

// fail maps domain errors onto HTTP statuses and stable error kinds.
func (a *API) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, orchestrator.ErrPlaybookNotFound),
		errors.Is(err, orchestrator.ErrServerNotFound):
		respondError(c, http.StatusNotFound, kindValidation, err)
	case errors.Is(err, orchestrator.ErrEmptyTargets),
		errors.Is(err, storage.ErrDuplicateName),
		errors.Is(err, storage.ErrDuplicateAddress):
		respondError(c, http.StatusBadRequest, kindValidation, err)
	case errors.Is(err, orchestrator.ErrNotProvisioned),
		errors.Is(err, provision.ErrAlreadyDeployed):
		respondError(c, http.StatusConflict, kindPrecondition, err)
	case provision.IsRetryable(err):
		respondError(c, http.StatusBadGateway, kindProvision, err)
	default:
		a.logger.Error("Request failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, kindInternal, err)
	}
}

// userID resolves the initiating user for audit records. Authentication
// itself happens upstream of this service.
func userID(c *gin.Context) string {
	if id := c.GetHeader("X-User-ID"); id != "" {
		return id
	}
	return "anonymous"
}
