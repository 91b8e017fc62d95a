package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"featureforge/models"
	"featureforge/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type nopMailer struct {
	mu   sync.Mutex
	sent []utils.EmailMessage
}

func (m *nopMailer) Send(msg utils.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "routes.db")), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func newTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()
	return NewApp(Options{
		DB:        db,
		JWTSecret: testSecret,
		JWTTTL:    time.Hour,
		AppURL:    "https://app.example.com",
		Emails:    utils.NewEmailDispatcher(&nopMailer{}, nil, nil, time.Second),
	})
}

func call(t *testing.T, app *fiber.App, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func decode(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

type idOnly struct {
	ID uint `json:"ID"`
}

func register(t *testing.T, app *fiber.App, name, email string) (string, uint) {
	t.Helper()
	status, env := call(t, app, http.MethodPost, "/auth/register", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, status, env.Error)

	var auth struct {
		AccessToken string `json:"access_token"`
		User        idOnly `json:"user"`
	}
	decode(t, env, &auth)
	require.NotEmpty(t, auth.AccessToken)
	return auth.AccessToken, auth.User.ID
}

type dependencyView struct {
	Outgoing []struct {
		DependencyID    uint   `json:"dependency_id"`
		SourceFeatureID uint   `json:"source_feature_id"`
		RelationType    string `json:"relation_type"`
		Derived         bool   `json:"derived"`
	} `json:"outgoing"`
	Incoming []struct {
		DependencyID    uint   `json:"dependency_id"`
		SourceFeatureID uint   `json:"source_feature_id"`
		RelationType    string `json:"relation_type"`
	} `json:"incoming"`
	IsBlocked bool `json:"is_blocked"`
}

func TestFeatureDependencyFlow(t *testing.T) {
	app := newTestApp(t, newTestDB(t))

	aliceToken, _ := register(t, app, "Alice", "alice@example.com")
	bobToken, bobID := register(t, app, "Bob", "bob@example.com")

	status, env := call(t, app, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Alice again", "email": "ALICE@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Email already registered", env.Error)

	status, _ = call(t, app, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env = call(t, app, http.MethodPost, "/api/teams", aliceToken, map[string]string{"name": "Core"})
	require.Equal(t, http.StatusCreated, status, env.Error)
	var team idOnly
	decode(t, env, &team)

	status, env = call(t, app, http.MethodPost, fmt.Sprintf("/api/teams/%d/members", team.ID), aliceToken, map[string]interface{}{"user_id": bobID})
	require.Equal(t, http.StatusCreated, status, env.Error)

	status, env = call(t, app, http.MethodPost, fmt.Sprintf("/api/teams/%d/members", team.ID), aliceToken, map[string]interface{}{"email": "newcomer@example.com"})
	require.Equal(t, http.StatusAccepted, status, env.Error)

	createFeature := func(title string) uint {
		status, env := call(t, app, http.MethodPost, fmt.Sprintf("/api/teams/%d/features", team.ID), aliceToken, map[string]string{"title": title})
		require.Equal(t, http.StatusCreated, status, env.Error)
		var f idOnly
		decode(t, env, &f)
		return f.ID
	}
	f1 := createFeature("F1")
	f2 := createFeature("F2")

	status, env = call(t, app, http.MethodPost, fmt.Sprintf("/api/features/%d/dependencies", f1), bobToken, map[string]interface{}{
		"targetFeatureId": f2,
		"dependencyType":  "blocks",
	})
	require.Equal(t, http.StatusCreated, status, env.Error)
	var dep struct {
		ID uint `json:"id"`
	}
	decode(t, env, &dep)
	require.NotZero(t, dep.ID)

	status, _ = call(t, app, http.MethodPost, fmt.Sprintf("/api/features/%d/dependencies", f1), bobToken, map[string]interface{}{
		"targetFeatureId": f2,
		"dependencyType":  "blocks",
	})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = call(t, app, http.MethodPost, fmt.Sprintf("/api/features/%d/dependencies", f2), bobToken, map[string]interface{}{
		"targetFeatureId": f1,
		"dependencyType":  "blocked_by",
	})
	assert.Equal(t, http.StatusConflict, status, "the stored inverse already covers this")

	status, _ = call(t, app, http.MethodPost, fmt.Sprintf("/api/features/%d/dependencies", f1), bobToken, map[string]interface{}{
		"targetFeatureId": f1,
		"dependencyType":  "relates_to",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	dependenciesOf := func(featureID uint) dependencyView {
		status, env := call(t, app, http.MethodGet, fmt.Sprintf("/api/features/%d/dependencies", featureID), aliceToken, nil)
		require.Equal(t, http.StatusOK, status, env.Error)
		var view dependencyView
		decode(t, env, &view)
		return view
	}

	view := dependenciesOf(f2)
	require.Len(t, view.Incoming, 1)
	assert.Equal(t, f1, view.Incoming[0].SourceFeatureID)
	assert.Equal(t, "blocked_by", view.Incoming[0].RelationType)
	assert.True(t, view.IsBlocked)

	status, env = call(t, app, http.MethodPut, fmt.Sprintf("/api/features/%d", f1), aliceToken, map[string]string{"status": "done"})
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.False(t, dependenciesOf(f2).IsBlocked)

	status, env = call(t, app, http.MethodPut, fmt.Sprintf("/api/features/%d", f1), aliceToken, map[string]string{"status": "review"})
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.True(t, dependenciesOf(f2).IsBlocked)

	// deletion works from the target end of the edge too
	status, env = call(t, app, http.MethodDelete, fmt.Sprintf("/api/features/%d/dependencies/%d", f2, dep.ID), bobToken, nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.JSONEq(t, `{}`, string(env.Data))

	view = dependenciesOf(f1)
	assert.Empty(t, view.Outgoing)
	assert.Empty(t, view.Incoming)
	assert.False(t, dependenciesOf(f2).IsBlocked)

	status, _ = call(t, app, http.MethodDelete, fmt.Sprintf("/api/features/%d/dependencies/%d", f2, dep.ID), bobToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCommentMentionCreatesNotification(t *testing.T) {
	app := newTestApp(t, newTestDB(t))
	aliceToken, _ := register(t, app, "Alice", "alice@example.com")
	bobToken, bobID := register(t, app, "Bob", "bob@example.com")

	status, env := call(t, app, http.MethodPost, "/api/teams", aliceToken, map[string]string{"name": "Core"})
	require.Equal(t, http.StatusCreated, status, env.Error)
	var team idOnly
	decode(t, env, &team)
	status, env = call(t, app, http.MethodPost, fmt.Sprintf("/api/teams/%d/members", team.ID), aliceToken, map[string]interface{}{"user_id": bobID})
	require.Equal(t, http.StatusCreated, status, env.Error)

	status, env = call(t, app, http.MethodPost, fmt.Sprintf("/api/teams/%d/features", team.ID), aliceToken, map[string]string{"title": "Dark mode"})
	require.Equal(t, http.StatusCreated, status, env.Error)
	var feature idOnly
	decode(t, env, &feature)

	status, env = call(t, app, http.MethodPost, fmt.Sprintf("/api/features/%d/comments", feature.ID), bobToken, map[string]string{"content": "@alice please review"})
	require.Equal(t, http.StatusCreated, status, env.Error)

	status, env = call(t, app, http.MethodGet, "/api/notifications/unread-count", aliceToken, nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	var count struct {
		Unread int64 `json:"unread"`
	}
	decode(t, env, &count)
	assert.Equal(t, int64(1), count.Unread)

	status, env = call(t, app, http.MethodGet, "/api/notifications", aliceToken, nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	var page struct {
		Notifications []struct {
			ID   uint   `json:"id"`
			Type string `json:"type"`
		} `json:"notifications"`
	}
	decode(t, env, &page)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, models.NotificationMention, page.Notifications[0].Type)

	status, _ = call(t, app, http.MethodPut, fmt.Sprintf("/api/notifications/%d/read", page.Notifications[0].ID), bobToken, nil)
	assert.Equal(t, http.StatusNotFound, status, "bob cannot touch alice's notification")

	status, env = call(t, app, http.MethodPut, fmt.Sprintf("/api/notifications/%d/read", page.Notifications[0].ID), aliceToken, nil)
	require.Equal(t, http.StatusOK, status, env.Error)

	status, env = call(t, app, http.MethodGet, "/api/notifications/unread-count", aliceToken, nil)
	require.Equal(t, http.StatusOK, status)
	decode(t, env, &count)
	assert.Zero(t, count.Unread)
}

func TestRequestErrors(t *testing.T) {
	app := newTestApp(t, newTestDB(t))
	token, _ := register(t, app, "Alice", "alice@example.com")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/teams", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/teams", "garbage", http.StatusUnauthorized},
		{"missing feature", http.MethodGet, "/api/features/9999", token, http.StatusNotFound},
		{"malformed id", http.MethodGet, "/api/features/abc", token, http.StatusBadRequest},
		{"missing team", http.MethodGet, "/api/teams/42", token, http.StatusNotFound},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound},
		{"me", http.MethodGet, "/auth/me", token, http.StatusOK},
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"email stats", http.MethodGet, "/api/email/stats", token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := call(t, app, tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, status)
		})
	}

	status, env := call(t, app, http.MethodPost, "/auth/register", "", map[string]string{"email": "bad"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Validation failed", env.Error)
}

func TestForeignFeatureAnswersLikeMissingOne(t *testing.T) {
	app := newTestApp(t, newTestDB(t))
	aliceToken, _ := register(t, app, "Alice", "alice@example.com")
	olgaToken, _ := register(t, app, "Olga", "olga@example.com")

	status, env := call(t, app, http.MethodPost, "/api/teams", aliceToken, map[string]string{"name": "Core"})
	require.Equal(t, http.StatusCreated, status, env.Error)
	var team idOnly
	decode(t, env, &team)

	status, env = call(t, app, http.MethodPost, fmt.Sprintf("/api/teams/%d/features", team.ID), aliceToken, map[string]string{"title": "Secret"})
	require.Equal(t, http.StatusCreated, status, env.Error)
	var feature idOnly
	decode(t, env, &feature)

	for _, suffix := range []string{"", "/dependencies", "/comments"} {
		foreignStatus, foreign := call(t, app, http.MethodGet, fmt.Sprintf("/api/features/%d%s", feature.ID, suffix), olgaToken, nil)
		missingStatus, missing := call(t, app, http.MethodGet, fmt.Sprintf("/api/features/9999%s", suffix), olgaToken, nil)
		assert.Equal(t, http.StatusNotFound, foreignStatus, suffix)
		assert.Equal(t, missingStatus, foreignStatus, suffix)
		assert.Equal(t, missing.Error, foreign.Error, suffix)
	}

	status, _ = call(t, app, http.MethodPost, fmt.Sprintf("/api/features/%d/vote", feature.ID), olgaToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestWithoutDatabase(t *testing.T) {
	app := newTestApp(t, nil)

	status, _ := call(t, app, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, app, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Alice", "email": "alice@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusServiceUnavailable, status)

	token, err := utils.GenerateJWTToken(&models.User{Model: gorm.Model{ID: 1}, Email: "alice@example.com"}, testSecret, time.Hour)
	require.NoError(t, err)
	status, env := call(t, app, http.MethodGet, "/api/teams", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "Database unavailable", env.Error)
}
