package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"assethub/server/assetman/api"
	"assethub/server/assetman/domain"
	"assethub/server/assetman/repository"
	"assethub/server/assetman/service"
	commonauth "assethub/server/common/auth"
	"assethub/server/common/infra/object"
)

type memAssetStore struct {
	items  map[string]domain.AssetRecord
	nextID int
}

func (m *memAssetStore) Create(_ context.Context, item domain.AssetRecord) (domain.AssetRecord, error) {
	m.nextID++
	item.ID = fmt.Sprintf("a%d", m.nextID)
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	m.items[item.ID] = item
	return item, nil
}

func (m *memAssetStore) GetByID(_ context.Context, id string) (domain.AssetRecord, error) {
	item, ok := m.items[id]
	if !ok {
		return domain.AssetRecord{}, &domain.NotFoundError{ID: id}
	}
	return item, nil
}

func (m *memAssetStore) Save(_ context.Context, item domain.AssetRecord) (domain.AssetRecord, error) {
	item.UpdatedAt = time.Now()
	m.items[item.ID] = item
	return item, nil
}

func (m *memAssetStore) List(_ context.Context, filter repository.ListFilter) ([]domain.AssetRecord, string, error) {
	out := []domain.AssetRecord{}
	for _, item := range m.items {
		if filter.State != "" && item.State != filter.State {
			continue
		}
		if !filter.IncludeDeleted && item.IsDeleted() {
			continue
		}
		out = append(out, item)
	}
	return out, "", nil
}

func (m *memAssetStore) Categories(_ context.Context, _ bool) ([]string, error) {
	return []string{"product"}, nil
}

type memPresigner struct{}

func (memPresigner) PresignPut(_ context.Context, _ object.Location, key string, _ time.Duration) (string, error) {
	return "https://minio.local/w/" + key, nil
}

func (memPresigner) PresignGet(_ context.Context, _ object.Location, key string, _ time.Duration) (string, error) {
	return "https://minio.local/r/" + key, nil
}

type memMover struct{}

func (memMover) Copy(_ context.Context, _ object.Location, _ string, _ object.Location, _ string) error {
	return nil
}

func (memMover) Delete(_ context.Context, _ object.Location, _ string) error { return nil }

type fixture struct {
	router *gin.Engine
	auth   *commonauth.Service
	store  *memAssetStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &memAssetStore{items: map[string]domain.AssetRecord{}}
	limits := service.UploadLimits{
		GlobalMaxBytes: 50 << 20,
		Default:        service.CategoryLimit{MaxBytes: 5 << 20, AllowedTypes: []string{"*"}},
		PerCategory: map[string]service.CategoryLimit{
			"product": {MaxBytes: 10 << 20, AllowedTypes: []string{"image/jpeg", "image/png"}},
		},
	}
	authSvc := commonauth.NewService("test-secret", 60)
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	handler := api.NewHandler(
		service.NewUploadService(memPresigner{}, limits, 15*time.Minute),
		service.NewAssetService(store, memMover{}),
		service.NewHub(nil),
		authSvc,
		api.AdminCredential{Username: "admin", PasswordHash: string(hash)},
	)
	r := gin.New()
	handler.RegisterRoutes(r)
	return &fixture{router: r, auth: authSvc, store: store}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) adminToken(t *testing.T) string {
	t.Helper()
	token, err := f.auth.GenerateToken("admin", api.RoleAdmin)
	require.NoError(t, err)
	return token
}

func (f *fixture) viewerToken(t *testing.T) string {
	t.Helper()
	token, err := f.auth.GenerateToken("viewer", "viewer")
	require.NoError(t, err)
	return token
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": "admin", "password": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		AccessToken string `json:"access_token"`
		Role        string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, api.RoleAdmin, resp.Role)

	denied := f.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, denied.Code)
}

func TestRoutesRequireToken(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/assets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/assets", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/assets/a1/promote", f.viewerToken(t), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUploadCredentialEndpoint(t *testing.T) {
	f := newFixture(t)
	token := f.adminToken(t)

	w := f.do(t, http.MethodPost, "/api/v1/assets/upload-credential", token, gin.H{
		"file_name":    "my photo.jpg",
		"content_type": "image/jpeg",
		"byte_size":    200000,
		"category":     "product",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var cred service.UploadCredential
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cred))
	assert.Regexp(t, `^product/\d{6}/.+-my_photo\.jpg$`, cred.StagingPath)
	assert.NotEmpty(t, cred.WriteURL)

	oversize := f.do(t, http.MethodPost, "/api/v1/assets/upload-credential", token, gin.H{
		"file_name":    "huge.jpg",
		"content_type": "image/jpeg",
		"byte_size":    11 << 20,
		"category":     "product",
	})
	assert.Equal(t, http.StatusBadRequest, oversize.Code)
}

func TestAssetLifecycleEndpoints(t *testing.T) {
	f := newFixture(t)
	token := f.adminToken(t)

	created := f.do(t, http.MethodPost, "/api/v1/assets", token, gin.H{
		"original_file_name": "my photo.jpg",
		"staging_path":       "product/202609/u1-my_photo.jpg",
		"content_type":       "image/jpeg",
		"byte_size":          200000,
		"category":           "product",
	})
	require.Equal(t, http.StatusCreated, created.Code)
	var item domain.AssetRecord
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &item))
	assert.Equal(t, domain.StateStaged, item.State)

	promoted := f.do(t, http.MethodPost, "/api/v1/assets/"+item.ID+"/promote", token, nil)
	require.Equal(t, http.StatusOK, promoted.Code)

	again := f.do(t, http.MethodPost, "/api/v1/assets/"+item.ID+"/promote", token, nil)
	assert.Equal(t, http.StatusConflict, again.Code)

	deleted := f.do(t, http.MethodDelete, "/api/v1/assets/"+item.ID, token, nil)
	require.Equal(t, http.StatusOK, deleted.Code)

	hidden := f.do(t, http.MethodGet, "/api/v1/assets/"+item.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, hidden.Code)

	visible := f.do(t, http.MethodGet, "/api/v1/assets/"+item.ID+"?include_deleted=true", token, nil)
	assert.Equal(t, http.StatusOK, visible.Code)

	restored := f.do(t, http.MethodPost, "/api/v1/assets/"+item.ID+"/restore", token, nil)
	assert.Equal(t, http.StatusOK, restored.Code)
}

func TestGetMissingAsset(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/assets/nope", f.adminToken(t), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListForcesPromotedForNonAdmins(t *testing.T) {
	f := newFixture(t)
	admin := f.adminToken(t)

	created := f.do(t, http.MethodPost, "/api/v1/assets", admin, gin.H{
		"original_file_name": "draft.jpg",
		"staging_path":       "product/202609/u2-draft.jpg",
		"content_type":       "image/jpeg",
		"byte_size":          1000,
		"category":           "product",
	})
	require.Equal(t, http.StatusCreated, created.Code)

	var listResp struct {
		Items []domain.AssetRecord `json:"items"`
	}

	asViewer := f.do(t, http.MethodGet, "/api/v1/assets", f.viewerToken(t), nil)
	require.Equal(t, http.StatusOK, asViewer.Code)
	require.NoError(t, json.Unmarshal(asViewer.Body.Bytes(), &listResp))
	assert.Empty(t, listResp.Items)

	asAdmin := f.do(t, http.MethodGet, "/api/v1/assets?state=staged", admin, nil)
	require.Equal(t, http.StatusOK, asAdmin.Code)
	require.NoError(t, json.Unmarshal(asAdmin.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Items, 1)
}
