package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

const authHeader = "ecg-auth"

const authSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id            INTEGER   PRIMARY KEY,
    key_hash      TEXT      NOT NULL UNIQUE,
    scopes        TEXT      NOT NULL,
    description   TEXT      NOT NULL,
    created_at    DATETIME  NOT NULL
);
`

// Scopes understood by the admin API. "*" grants all of them.
const (
	scopeMaster         = "*"
	scopeAuthManage     = "auth:manage"
	scopeOptionsRead    = "options:read"
	scopeGenerate       = "generate"
	scopeStatsRead      = "stats:read"
	scopeTemplatesRead  = "templates:read"
	scopeTemplatesWrite = "templates:write"
	scopeServerConfig   = "server:config"
	scopeServerControl  = "server:control"
)

var knownScopes = []string{
	scopeMaster,
	scopeAuthManage,
	scopeOptionsRead,
	scopeGenerate,
	scopeStatsRead,
	scopeTemplatesRead,
	scopeTemplatesWrite,
	scopeServerConfig,
	scopeServerControl,
}

var errUnknownKey = errors.New("unknown api key")

type contextKey string

const contextKeyPermissions = contextKey("permissions")

// Permissions holds the authentication info for a request.
type Permissions struct {
	KeyID    int // 0 while the API is open
	ScopeSet map[string]struct{}
}

func newPermissions(id int, scopes []string) *Permissions {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return &Permissions{KeyID: id, ScopeSet: set}
}

// APIKeyInfo is the structure returned when listing keys.
type APIKeyInfo struct {
	ID          int       `json:"id"`
	Scopes      []string  `json:"scopes"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateKeyRequest is the expected JSON body for creating a new key.
type CreateKeyRequest struct {
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyResponse is the JSON response after creating a key.
type CreateKeyResponse struct {
	ID     int      `json:"id"`
	RawKey string   `json:"raw_key"`
	Scopes []string `json:"scopes"`
}

func setupAuthSchema(db *sql.DB) error {
	_, err := db.Exec(authSchema)
	return err
}

// KeyStore persists hashed API keys. Raw keys are never stored.
type KeyStore struct {
	db *sql.DB
}

// Count returns the number of stored keys.
func (ks *KeyStore) Count(ctx context.Context) (int, error) {
	var n int
	err := ks.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_keys").Scan(&n)
	return n, err
}

// Lookup returns the permissions of rawKey, or errUnknownKey.
func (ks *KeyStore) Lookup(ctx context.Context, rawKey string) (*Permissions, error) {
	var id int
	var scopesStr string
	err := ks.db.QueryRowContext(ctx, "SELECT id, scopes FROM api_keys WHERE key_hash = ?", hashAPIKey(rawKey)).Scan(&id, &scopesStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errUnknownKey
		}
		return nil, fmt.Errorf("failed to query api key: %w", err)
	}
	return newPermissions(id, strings.Fields(scopesStr)), nil
}

// Create stores a new key and returns it with its raw value. The first key
// ever created is always given the master scope, so the API cannot be locked
// out of its own key management.
func (ks *KeyStore) Create(ctx context.Context, description string, scopes []string) (CreateKeyResponse, error) {
	rawKey, err := generateAPIKey()
	if err != nil {
		return CreateKeyResponse{}, err
	}

	tx, err := ks.db.BeginTx(ctx, nil)
	if err != nil {
		return CreateKeyResponse{}, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var keyCount int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_keys").Scan(&keyCount); err != nil {
		return CreateKeyResponse{}, fmt.Errorf("failed to count api keys: %w", err)
	}
	if keyCount == 0 {
		scopes = []string{scopeMaster}
	}

	var newID int
	err = tx.QueryRowContext(ctx,
		`INSERT INTO api_keys (key_hash, description, scopes, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		hashAPIKey(rawKey), description, strings.Join(scopes, " "), time.Now().UTC()).Scan(&newID)
	if err != nil {
		return CreateKeyResponse{}, fmt.Errorf("failed to insert api key: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return CreateKeyResponse{}, fmt.Errorf("failed to commit api key: %w", err)
	}

	return CreateKeyResponse{ID: newID, RawKey: rawKey, Scopes: scopes}, nil
}

// List returns all keys ordered by ID.
func (ks *KeyStore) List(ctx context.Context) ([]APIKeyInfo, error) {
	rows, err := ks.db.QueryContext(ctx, `SELECT id, description, scopes, created_at FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	keys := []APIKeyInfo{}
	for rows.Next() {
		var key APIKeyInfo
		var scopesStr string
		if err = rows.Scan(&key.ID, &key.Description, &scopesStr, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key row: %w", err)
		}
		key.Scopes = strings.Fields(scopesStr)
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Delete removes the key with id. It reports false when no such key exists.
func (ks *KeyStore) Delete(ctx context.Context, id int) (bool, error) {
	res, err := ks.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete api key %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AuthAPI holds the dependencies for the authentication API handlers.
type AuthAPI struct {
	keys   *KeyStore
	logger *slog.Logger
}

func NewAuthAPI(db *sql.DB, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{
		keys:   &KeyStore{db: db},
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/auth endpoints.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleCheckMe)
	mux.HandleFunc("/api/auth/keys", a.handleKeys)
	mux.HandleFunc("/api/auth/keys/{id}", a.handleKeyByID)
}

// Authenticate checks for a valid key in the ecg-auth header and attaches its
// permissions to the request context. While no key exists the API is open and
// every request gets the master scope.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keyCount, err := a.keys.Count(r.Context())
		if err != nil {
			a.logger.Error("Authenticate failed to count keys", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		var perms *Permissions
		if keyCount == 0 {
			perms = newPermissions(0, []string{scopeMaster})
		} else {
			apiKey := r.Header.Get(authHeader)
			if apiKey == "" {
				respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
				return
			}
			perms, err = a.keys.Lookup(r.Context(), apiKey)
			if err != nil {
				if errors.Is(err, errUnknownKey) {
					respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
					return
				}
				a.logger.Error("Authenticate failed to look up API key", "error", err)
				respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}
		}

		ctx := context.WithValue(r.Context(), contextKeyPermissions, perms)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireScope rejects requests without scope before they reach next.
func requireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !hasScope(r, scope) {
			respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *AuthAPI) handleKeys(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if !hasScope(r, scopeAuthManage) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'auth:manage' scope")
		return
	}
	if r.Method == http.MethodGet {
		a.listKeys(w, r)
	} else {
		a.createKey(w, r)
	}
}

func (a *AuthAPI) handleKeyByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid key ID format in URL")
		return
	}
	if !allowMethods(w, r, http.MethodDelete) {
		return
	}
	if !hasScope(r, scopeAuthManage) {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'auth:manage' scope")
		return
	}
	a.deleteKey(w, r, id)
}

func (a *AuthAPI) handleCheckMe(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid or missing token")
		return
	}

	scopes := make([]string, 0, len(perms.ScopeSet))
	for s := range perms.ScopeSet {
		scopes = append(scopes, s)
	}
	slices.Sort(scopes)

	respondWithJSON(w, http.StatusOK, map[string]any{
		"key_id": perms.KeyID,
		"scopes": scopes,
	})
}

func (a *AuthAPI) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := a.keys.List(r.Context())
	if err != nil {
		a.logger.Error("Failed to list API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	respondWithJSON(w, http.StatusOK, keys)
}

func (a *AuthAPI) createKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	for _, s := range req.Scopes {
		if !slices.Contains(knownScopes, s) {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scope '%s'", s))
			return
		}
	}

	resp, err := a.keys.Create(r.Context(), req.Description, req.Scopes)
	if err != nil {
		a.logger.Error("Failed to create API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save new key")
		return
	}
	a.logger.Info("API key created", "id", resp.ID, "scopes", resp.Scopes)
	respondWithJSON(w, http.StatusCreated, resp)
}

func (a *AuthAPI) deleteKey(w http.ResponseWriter, r *http.Request, id int) {
	if id == 1 {
		respondWithError(w, http.StatusBadRequest, "Cannot delete the primary master key (ID 1)")
		return
	}

	found, err := a.keys.Delete(r.Context(), id)
	if err != nil {
		a.logger.Error("Failed to delete API key", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "Key not found")
		return
	}
	a.logger.Info("API key deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// hasScope checks if the permission set in the request context includes a required scope.
func hasScope(r *http.Request, requiredScope string) bool {
	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	if !ok {
		return false
	}

	if _, isMaster := perms.ScopeSet[scopeMaster]; isMaster {
		return true
	}

	_, has := perms.ScopeSet[requiredScope]
	return has
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return "ecg_" + hex.EncodeToString(b), nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
