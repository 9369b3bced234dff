package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EmmanuelGava/sincrogoo/backend/internal/auth"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/models"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/projects"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/store"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

const (
	routerSigningSecret = "router-test-secret"
	routerIssuer        = "sincrogoo"
	routerCookieName    = "sincrogoo_session"
	routerUserID        = "user-router"
)

type routerFixture struct {
	server   *httptest.Server
	notifier *SyncNotifier
	db       *gorm.DB
}

func newRouterFixture(t *testing.T, production bool) routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:router_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Project{}, &models.Document{}, &models.Cell{},
		&models.Deck{}, &models.Page{}, &models.Element{},
		&models.Association{}, &models.SyncEvent{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	storeClient, err := store.NewGormClient(store.GormClientConfig{
		Database:   db,
		IDProvider: store.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct store client: %v", err)
	}

	selectorConfig := store.SelectorConfig{
		Session:    storeClient,
		Production: production,
	}
	if !production {
		selectorConfig.Anonymous = storeClient
	}

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(routerSigningSecret),
		Issuer:        routerIssuer,
		CookieName:    routerCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}

	projectsService, err := projects.NewService(projects.ServiceConfig{
		Database:   db,
		IDProvider: store.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct projects service: %v", err)
	}

	notifier := NewSyncNotifier()
	handler, err := NewHTTPHandler(Dependencies{
		Sessions: sessions,
		Selector: store.NewSelector(selectorConfig),
		Projects: projectsService,
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return routerFixture{server: server, notifier: notifier, db: db}
}

func contextWithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func mintRouterSession(t *testing.T, userID string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    routerIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(routerSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign session token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, method, target, token string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	request, err := http.NewRequest(method, target, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return response
}

func decodeBody(t *testing.T, response *http.Response, target any) {
	t.Helper()
	defer response.Body.Close() //nolint:errcheck
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestCreateProjectRequiresSession(t *testing.T) {
	fixture := newRouterFixture(t, false)

	response := doJSON(t, http.MethodPost, fixture.server.URL+"/projects", "", map[string]any{"name": "Dashboard"})
	defer response.Body.Close() //nolint:errcheck
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", response.StatusCode)
	}
}

func TestCreateAndFetchProject(t *testing.T) {
	fixture := newRouterFixture(t, false)
	token := mintRouterSession(t, routerUserID)

	created := doJSON(t, http.MethodPost, fixture.server.URL+"/projects", token, map[string]any{"name": "Dashboard"})
	if created.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", created.StatusCode)
	}
	var project models.Project
	decodeBody(t, created, &project)
	if project.ID == "" || project.OwnerID != routerUserID {
		t.Fatalf("unexpected project: %+v", project)
	}

	fetched := doJSON(t, http.MethodGet, fixture.server.URL+"/projects/"+project.ID, token, nil)
	if fetched.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", fetched.StatusCode)
	}
	var loaded models.Project
	decodeBody(t, fetched, &loaded)
	if loaded.ID != project.ID {
		t.Fatalf("unexpected project payload: %+v", loaded)
	}

	missing := doJSON(t, http.MethodGet, fixture.server.URL+"/projects/never-created", token, nil)
	defer missing.Body.Close() //nolint:errcheck
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func TestSyncProjectEndpoint(t *testing.T) {
	fixture := newRouterFixture(t, false)
	token := mintRouterSession(t, routerUserID)

	created := doJSON(t, http.MethodPost, fixture.server.URL+"/projects", token, map[string]any{"name": "Dashboard"})
	var project models.Project
	decodeBody(t, created, &project)

	snapshot := map[string]any{
		"documents": []any{map[string]any{
			"externalId": "sheet-1",
			"title":      "Budget",
			"leafRecords": []any{
				map[string]any{"naturalKey": "A1", "content": "Revenue"},
				map[string]any{"naturalKey": "B1", "content": "1200", "type": "number"},
			},
		}},
		"decks": []any{map[string]any{
			"externalId": "presentation-1",
			"title":      "Review",
			"pages": []any{map[string]any{
				"externalId": "slide-1",
				"title":      "Summary",
				"elements": []any{map[string]any{
					"externalId": "shape-1",
					"type":       "text_box",
					"content":    "1200",
					"binding": map[string]any{
						"documentExternalId": "sheet-1",
						"column":             "B",
						"bindingType":        "content",
					},
				}},
			}},
		}},
	}

	response := doJSON(t, http.MethodPost, fixture.server.URL+"/projects/"+project.ID+"/sync", token, snapshot)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}

	var result struct {
		DocumentIDMap    map[string]string `json:"documentIdMap"`
		DeckIDMap        map[string]string `json:"deckIdMap"`
		CellCount        int               `json:"cellCount"`
		ElementCount     int               `json:"elementCount"`
		AssociationCount int               `json:"associationCount"`
		Errors           []any             `json:"errors"`
	}
	decodeBody(t, response, &result)
	if len(result.DocumentIDMap) != 1 || len(result.DeckIDMap) != 1 {
		t.Fatalf("unexpected id maps: %+v", result)
	}
	if result.CellCount != 2 || result.ElementCount != 1 || result.AssociationCount != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}

	var cellCount int64
	if err := fixture.db.Model(&models.Cell{}).Count(&cellCount).Error; err != nil {
		t.Fatalf("failed to count cells: %v", err)
	}
	if cellCount != 2 {
		t.Fatalf("expected 2 stored cells, got %d", cellCount)
	}
}

func TestProjectAccessScopedToOwner(t *testing.T) {
	fixture := newRouterFixture(t, false)
	ownerToken := mintRouterSession(t, routerUserID)
	intruderToken := mintRouterSession(t, "user-intruder")

	created := doJSON(t, http.MethodPost, fixture.server.URL+"/projects", ownerToken, map[string]any{"name": "Dashboard"})
	var project models.Project
	decodeBody(t, created, &project)

	fetched := doJSON(t, http.MethodGet, fixture.server.URL+"/projects/"+project.ID, intruderToken, nil)
	defer fetched.Body.Close() //nolint:errcheck
	if fetched.StatusCode != http.StatusNotFound {
		t.Fatalf("a foreign project must read as not found, got %d", fetched.StatusCode)
	}

	snapshot := map[string]any{
		"documents": []any{map[string]any{"externalId": "sheet-1", "title": "Budget"}},
	}
	synced := doJSON(t, http.MethodPost, fixture.server.URL+"/projects/"+project.ID+"/sync", intruderToken, snapshot)
	defer synced.Body.Close() //nolint:errcheck
	if synced.StatusCode != http.StatusNotFound {
		t.Fatalf("a foreign project must not be syncable, got %d", synced.StatusCode)
	}

	deleted := doJSON(t, http.MethodDelete, fixture.server.URL+"/projects/"+project.ID, intruderToken, nil)
	defer deleted.Body.Close() //nolint:errcheck
	if deleted.StatusCode != http.StatusNotFound {
		t.Fatalf("a foreign project must not be deletable, got %d", deleted.StatusCode)
	}

	surviving := doJSON(t, http.MethodGet, fixture.server.URL+"/projects/"+project.ID, ownerToken, nil)
	defer surviving.Body.Close() //nolint:errcheck
	if surviving.StatusCode != http.StatusOK {
		t.Fatalf("the owner must keep access after the foreign attempts, got %d", surviving.StatusCode)
	}
}

func TestSyncProjectRejectsEmptySnapshot(t *testing.T) {
	fixture := newRouterFixture(t, false)
	token := mintRouterSession(t, routerUserID)

	response := doJSON(t, http.MethodPost, fixture.server.URL+"/projects/some-project/sync", token, map[string]any{})
	defer response.Body.Close() //nolint:errcheck
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.StatusCode)
	}
}

func TestSyncProjectFailsClosedInProduction(t *testing.T) {
	fixture := newRouterFixture(t, true)

	snapshot := map[string]any{
		"documents": []any{map[string]any{"externalId": "sheet-1", "title": "Budget"}},
	}
	response := doJSON(t, http.MethodPost, fixture.server.URL+"/projects/some-project/sync", "", snapshot)
	defer response.Body.Close() //nolint:errcheck
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session in production, got %d", response.StatusCode)
	}
}

func TestSyncPublishesNotification(t *testing.T) {
	fixture := newRouterFixture(t, false)
	token := mintRouterSession(t, routerUserID)

	created := doJSON(t, http.MethodPost, fixture.server.URL+"/projects", token, map[string]any{"name": "Dashboard"})
	var project models.Project
	decodeBody(t, created, &project)

	ctx, cancel := contextWithTimeout(t)
	defer cancel()
	stream, unsubscribe := fixture.notifier.Subscribe(ctx, project.ID)
	defer unsubscribe()

	snapshot := map[string]any{
		"documents": []any{map[string]any{
			"externalId":  "sheet-1",
			"title":       "Budget",
			"leafRecords": []any{map[string]any{"naturalKey": "A1", "content": "x"}},
		}},
	}
	response := doJSON(t, http.MethodPost, fixture.server.URL+"/projects/"+project.ID+"/sync", token, snapshot)
	defer response.Body.Close() //nolint:errcheck
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}

	select {
	case notification := <-stream:
		if notification.EventType != SyncEventProjectSynced {
			t.Fatalf("unexpected event type: %s", notification.EventType)
		}
		if notification.Degraded {
			t.Fatalf("a clean sync must not be flagged degraded")
		}
		if len(notification.Documents) != 1 || notification.Documents[0] != "sheet-1" {
			t.Fatalf("unexpected documents: %v", notification.Documents)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for the sync notification")
	}
}
