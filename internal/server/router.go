package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/EmmanuelGava/sincrogoo/backend/internal/auth"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/models"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/projects"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/store"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/syncer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	credentialsContextKey = "sincrogoo_credentials"
	subjectContextKey     = "sincrogoo_subject"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingSelector         = errors.New("store selector dependency required")
	errMissingProjectsService  = errors.New("projects service dependency required")
)

// Dependencies wires the collaborators of the HTTP surface.
type Dependencies struct {
	Sessions *auth.SessionValidator
	Selector *store.Selector
	Projects *projects.Service
	Notifier *SyncNotifier
	Logger   *zap.Logger
	Clock    func() time.Time
}

// NewHTTPHandler builds the gin router exposing project lifecycle and the
// sync entry point.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Selector == nil {
		return nil, errMissingSelector
	}
	if deps.Projects == nil {
		return nil, errMissingProjectsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewSyncNotifier()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions: deps.Sessions,
		selector: deps.Selector,
		projects: deps.Projects,
		notifier: notifier,
		logger:   logger,
		clock:    clock,
	}

	api := router.Group("/")
	api.Use(handler.resolveCredentials)
	api.POST("/projects", handler.handleCreateProject)
	api.GET("/projects", handler.handleListProjects)
	api.GET("/projects/:projectId", handler.handleGetProject)
	api.DELETE("/projects/:projectId", handler.handleDeleteProject)
	api.POST("/projects/:projectId/sync", handler.handleSyncProject)
	api.GET("/projects/:projectId/events", handler.handleSyncEvents)

	return router, nil
}

type httpHandler struct {
	sessions *auth.SessionValidator
	selector *store.Selector
	projects *projects.Service
	notifier *SyncNotifier
	logger   *zap.Logger
	clock    func() time.Time
}

// resolveCredentials validates the session when one is presented and records
// the outcome. A missing session is not rejected here: the store selector
// decides whether a downgraded client is acceptable for this environment.
func (h *httpHandler) resolveCredentials(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if !errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.Set(credentialsContextKey, store.Credentials{})
		c.Next()
		return
	}
	c.Set(credentialsContextKey, store.Credentials{Subject: claims.SubjectID(), SessionValid: true})
	c.Set(subjectContextKey, claims.SubjectID())
	c.Next()
}

func (h *httpHandler) credentials(c *gin.Context) store.Credentials {
	value, ok := c.Get(credentialsContextKey)
	if !ok {
		return store.Credentials{}
	}
	credentials, ok := value.(store.Credentials)
	if !ok {
		return store.Credentials{}
	}
	return credentials
}

type createProjectPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleCreateProject(c *gin.Context) {
	subject := c.GetString(subjectContextKey)
	if subject == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request createProjectPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	project, err := h.projects.Create(c.Request.Context(), subject, request.Name)
	if err != nil {
		if errors.Is(err, projects.ErrInvalidProject) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Error("project creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (h *httpHandler) handleListProjects(c *gin.Context) {
	subject := c.GetString(subjectContextKey)
	if subject == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	list, err := h.projects.ListByOwner(c.Request.Context(), subject)
	if err != nil {
		h.logger.Error("project listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": list})
}

// authorizeProject loads the addressed project and verifies the session
// subject owns it. A foreign project reads as not found, so probing cannot
// confirm its existence.
func (h *httpHandler) authorizeProject(c *gin.Context) (models.Project, bool) {
	subject := c.GetString(subjectContextKey)
	if subject == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return models.Project{}, false
	}
	project, err := h.projects.Get(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		if errors.Is(err, projects.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return models.Project{}, false
		}
		h.logger.Error("project lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return models.Project{}, false
	}
	if project.OwnerID != subject {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return models.Project{}, false
	}
	return project, true
}

func (h *httpHandler) handleGetProject(c *gin.Context) {
	project, ok := h.authorizeProject(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *httpHandler) handleDeleteProject(c *gin.Context) {
	project, ok := h.authorizeProject(c)
	if !ok {
		return
	}
	if err := h.projects.Delete(c.Request.Context(), project.ID); err != nil {
		if errors.Is(err, projects.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("project deletion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type syncRequestPayload struct {
	Documents []syncer.DocumentSnapshot `json:"documents"`
	Decks     []syncer.DeckSnapshot     `json:"decks"`
}

func (h *httpHandler) handleSyncProject(c *gin.Context) {
	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if len(request.Documents) == 0 && len(request.Decks) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_snapshot"})
		return
	}

	project, ok := h.authorizeProject(c)
	if !ok {
		return
	}
	projectID := project.ID

	client, rung, err := h.selector.ClientFor(h.credentials(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	syncService, err := syncer.NewService(syncer.ServiceConfig{
		Client: client,
		Logger: h.logger,
		Clock:  h.clock,
	})
	if err != nil {
		h.logger.Error("sync service construction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}

	result, err := syncService.SyncProject(c.Request.Context(), projectID, request.Documents, request.Decks)
	if err != nil {
		h.logger.Error("project sync failed",
			zap.String("project_id", projectID),
			zap.String("client_rung", string(rung)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}

	h.notifier.Publish(SyncNotification{
		ProjectID: projectID,
		EventType: SyncEventProjectSynced,
		Documents: keysOf(result.DocumentIDMap),
		Decks:     keysOf(result.DeckIDMap),
		Degraded:  len(result.Errors) > 0,
		Timestamp: h.clock().UTC(),
	})

	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleSyncEvents(c *gin.Context) {
	projectID := c.Param("projectId")
	stream, cancel := h.notifier.Subscribe(c.Request.Context(), projectID)
	defer cancel()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		select {
		case notification, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(notification.EventType, gin.H{
				"projectId": notification.ProjectID,
				"documents": notification.Documents,
				"decks":     notification.Decks,
				"degraded":  notification.Degraded,
				"timestamp": notification.Timestamp,
			})
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"timestamp": h.clock().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func keysOf(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	return keys
}
