// Package integration provides end-to-end tests for the vault API.
// Every flow runs against SQLite, an in-memory bucket, PostgreSQL and MySQL; the last two
// are skipped when their test databases are unreachable.
package integration

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/safestring/internal/app"
	authHTTP "github.com/allisson/safestring/internal/auth/http"
	authService "github.com/allisson/safestring/internal/auth/service"
	"github.com/allisson/safestring/internal/config"
	"github.com/allisson/safestring/internal/database"
	"github.com/allisson/safestring/internal/testutil"
	"github.com/allisson/safestring/internal/vault/http/dto"
)

// integrationTestContext holds all dependencies and state for integration testing.
type integrationTestContext struct {
	container   *app.Container
	db          *sql.DB
	server      *httptest.Server
	unlockToken string
	backend     string
}

// makeRequest performs an HTTP request and returns the response and body.
func (ctx *integrationTestContext) makeRequest(
	t *testing.T,
	method, path string,
	body any,
	unlock bool,
) (*http.Response, []byte) {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(t, err, "failed to marshal request body")
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ctx.server.URL+path, bodyReader)
	require.NoError(t, err, "failed to create request")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if unlock {
		req.Header.Set(authHTTP.UnlockTokenHeader, ctx.unlockToken)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	//nolint:gosec // controlled test environment with localhost URLs
	resp, err := client.Do(req)
	require.NoError(t, err, "failed to perform request")

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")
	if closeErr := resp.Body.Close(); closeErr != nil {
		t.Logf("Warning: failed to close response body: %v", closeErr)
	}

	return resp, respBody
}

// generateMasterKeys returns a MASTER_KEYS value holding one random key named "test-key-1".
func generateMasterKeys(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err, "failed to generate master key")
	return "test-key-1:" + base64.StdEncoding.EncodeToString(key)
}

// setupIntegrationTest builds the full application for backend and serves it over HTTP.
func setupIntegrationTest(t *testing.T, backend string) *integrationTestContext {
	t.Helper()

	gin.SetMode(gin.TestMode)

	plainToken, tokenHash, err := authService.NewUnlockTokenService().GenerateToken()
	require.NoError(t, err, "failed to generate unlock token")

	cfg := &config.Config{
		ServerHost:           "localhost",
		ServerPort:           8080,
		StorageBackend:       config.StorageBackendSQL,
		DBMaxOpenConnections: 10,
		DBMaxIdleConnections: 5,
		DBConnMaxLifetime:    time.Hour,
		LogLevel:             "error",
		MasterKeys:           generateMasterKeys(t),
		ActiveMasterKeyID:    "test-key-1",
		KeyAlgorithm:         "aes-gcm",
		UnlockTokenHash:      tokenHash,
		MetricsNamespace:     "safestring_integration",
	}

	var db *sql.DB
	switch backend {
	case database.DriverPostgres:
		db = testutil.SetupPostgresDB(t)
		testutil.TeardownDB(t, db)
		cfg.DBDriver = database.DriverPostgres
		cfg.DBConnectionString = testutil.GetPostgresTestDSN()
	case database.DriverMySQL:
		db = testutil.SetupMySQLDB(t)
		testutil.TeardownDB(t, db)
		cfg.DBDriver = database.DriverMySQL
		cfg.DBConnectionString = testutil.GetMySQLTestDSN()
	case database.DriverSQLite:
		cfg.DBDriver = database.DriverSQLite
		cfg.DBConnectionString = filepath.Join(t.TempDir(), "vault.db")
	case config.StorageBackendBlob:
		cfg.StorageBackend = config.StorageBackendBlob
		cfg.BlobBucketURL = "mem://"
		cfg.KeyAlgorithm = "chacha20-poly1305"
	default:
		t.Fatalf("unknown backend %s", backend)
	}

	container := app.NewContainer(cfg)

	if cfg.StorageBackend == config.StorageBackendSQL {
		db, err = container.DB()
		require.NoError(t, err, "failed to open database")
		_, err = database.Migrate(db, cfg.DBDriver)
		require.NoError(t, err, "failed to run migrations")
	}

	server, err := container.HTTPServer()
	require.NoError(t, err, "failed to build HTTP server")

	return &integrationTestContext{
		container:   container,
		db:          db,
		server:      httptest.NewServer(server.GetHandler()),
		unlockToken: plainToken,
		backend:     backend,
	}
}

// teardownIntegrationTest stops the HTTP server and releases every container resource.
func teardownIntegrationTest(t *testing.T, ctx *integrationTestContext) {
	t.Helper()
	ctx.server.Close()
	assert.NoError(t, ctx.container.Shutdown(context.Background()), "failed to shutdown container")
}

func backends() []string {
	return []string{
		database.DriverSQLite,
		config.StorageBackendBlob,
		database.DriverPostgres,
		database.DriverMySQL,
	}
}

func TestIntegration_Health_BasicChecks(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			ctx := setupIntegrationTest(t, backend)
			defer teardownIntegrationTest(t, ctx)

			resp, body := ctx.makeRequest(t, http.MethodGet, "/health", nil, false)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, `{"status":"healthy"}`, string(body))

			resp, body = ctx.makeRequest(t, http.MethodGet, "/ready", nil, false)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, string(body), `"entry_store":"ok"`)
		})
	}
}

func TestIntegration_UnlockGate(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			ctx := setupIntegrationTest(t, backend)
			defer teardownIntegrationTest(t, ctx)

			resp, _ := ctx.makeRequest(t, http.MethodGet, "/v1/entries", nil, false)
			assert.Equal(t, http.StatusLocked, resp.StatusCode)

			ctx.unlockToken = "wrong-token"
			resp, _ = ctx.makeRequest(t, http.MethodGet, "/v1/entries", nil, true)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestIntegration_Entries_CompleteFlow(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			ctx := setupIntegrationTest(t, backend)
			defer teardownIntegrationTest(t, ctx)

			value := func(s string) dto.SaveEntryRequest { return dto.SaveEntryRequest{Value: &s} }

			t.Run("save and retrieve", func(t *testing.T) {
				resp, _ := ctx.makeRequest(t, http.MethodPut, "/v1/entries/db/password", value("hunter2"), true)
				require.Equal(t, http.StatusNoContent, resp.StatusCode)

				resp, body := ctx.makeRequest(t, http.MethodGet, "/v1/entries/db/password", nil, true)
				require.Equal(t, http.StatusOK, resp.StatusCode)

				var entry dto.EntryResponse
				require.NoError(t, json.Unmarshal(body, &entry))
				assert.Equal(t, "db/password", entry.Name)
				assert.Equal(t, "hunter2", entry.Value)
			})

			t.Run("overwrite keeps one entry", func(t *testing.T) {
				resp, _ := ctx.makeRequest(t, http.MethodPut, "/v1/entries/db/password", value("correct horse"), true)
				require.Equal(t, http.StatusNoContent, resp.StatusCode)

				_, body := ctx.makeRequest(t, http.MethodGet, "/v1/entries/db/password", nil, true)
				assert.Contains(t, string(body), `"value":"correct horse"`)
			})

			t.Run("empty and unicode values", func(t *testing.T) {
				resp, _ := ctx.makeRequest(t, http.MethodPut, "/v1/entries/blank", value(""), true)
				require.Equal(t, http.StatusNoContent, resp.StatusCode)
				resp, _ = ctx.makeRequest(t, http.MethodPut, "/v1/entries/%C3%A9moji", value("🔑 ключ"), true)
				require.Equal(t, http.StatusNoContent, resp.StatusCode)

				_, body := ctx.makeRequest(t, http.MethodGet, "/v1/entries/blank", nil, true)
				assert.JSONEq(t, `{"name":"blank","value":""}`, string(body))
				_, body = ctx.makeRequest(t, http.MethodGet, "/v1/entries/%C3%A9moji", nil, true)
				assert.Contains(t, string(body), "🔑 ключ")
			})

			t.Run("list is sorted", func(t *testing.T) {
				resp, body := ctx.makeRequest(t, http.MethodGet, "/v1/entries", nil, true)
				require.Equal(t, http.StatusOK, resp.StatusCode)

				var list dto.ListEntriesResponse
				require.NoError(t, json.Unmarshal(body, &list))
				assert.Equal(t, []string{"blank", "db/password", "émoji"}, list.Data)
			})

			t.Run("missing entry", func(t *testing.T) {
				resp, body := ctx.makeRequest(t, http.MethodGet, "/v1/entries/nope", nil, true)
				assert.Equal(t, http.StatusNotFound, resp.StatusCode)
				assert.Contains(t, string(body), `"error":"not_found"`)
			})

			t.Run("missing value field", func(t *testing.T) {
				resp, body := ctx.makeRequest(t, http.MethodPut, "/v1/entries/x", map[string]any{}, true)
				assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
				assert.Contains(t, string(body), `"error":"validation_error"`)
			})

			t.Run("delete is idempotent", func(t *testing.T) {
				resp, _ := ctx.makeRequest(t, http.MethodDelete, "/v1/entries/db/password", nil, true)
				require.Equal(t, http.StatusNoContent, resp.StatusCode)
				resp, _ = ctx.makeRequest(t, http.MethodDelete, "/v1/entries/db/password", nil, true)
				require.Equal(t, http.StatusNoContent, resp.StatusCode)

				resp, _ = ctx.makeRequest(t, http.MethodGet, "/v1/entries/db/password", nil, true)
				assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			})

			t.Run("no orphan keys after delete", func(t *testing.T) {
				reconciler, err := ctx.container.Reconciler()
				require.NoError(t, err)
				removed, err := reconciler.ReconcileOnce(context.Background())
				require.NoError(t, err)
				assert.Zero(t, removed)
			})
		})
	}
}

func TestIntegration_CorruptCiphertext(t *testing.T) {
	ctx := setupIntegrationTest(t, database.DriverSQLite)
	defer teardownIntegrationTest(t, ctx)

	value := "s3cr3t"
	resp, _ := ctx.makeRequest(t, http.MethodPut, "/v1/entries/api", dto.SaveEntryRequest{Value: &value}, true)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err := ctx.db.Exec(`UPDATE entries SET ciphertext = ? WHERE name = ?`, []byte("tampered-ciphertext!"), "api")
	require.NoError(t, err)

	resp, body := ctx.makeRequest(t, http.MethodGet, "/v1/entries/api", nil, true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(body), `"error":"value_unavailable"`)
	assert.NotContains(t, string(body), value)
}
