package license

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/licentia/internal/auth"
	"github.com/mbd888/licentia/internal/brand"
)

const testAdminSecret = "test-admin-secret"

type httpEnv struct {
	router *gin.Engine
	svc    *Service
	brand  *brand.Brand
	apiKey string
}

func newHTTPEnv(t *testing.T) *httpEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	brands := brand.NewMemoryStore()
	store := NewMemoryStore(brands)
	svc := NewService(store, nil)
	mgr := auth.NewManager(auth.NewMemoryStore())

	b := &brand.Brand{ID: "brand_1", Name: "Acme Software", CreatedAt: time.Now()}
	require.NoError(t, brands.CreateBrand(ctx, b))
	require.NoError(t, brands.CreateProduct(ctx, &brand.Product{
		ID: "prod_1", BrandID: b.ID,
		Name: "Photo Editor", Slug: "photo-editor",
		DefaultSeats: 2, CreatedAt: time.Now(),
	}))

	rawKey, _, err := mgr.GenerateKey(ctx, b.ID, "test key")
	require.NoError(t, err)

	handler := NewHandler(svc)
	router := gin.New()
	v1 := router.Group("/v1")
	v1.Use(auth.Middleware(mgr, brands))

	protected := v1.Group("")
	protected.Use(auth.RequireBrand())
	handler.RegisterBrandRoutes(protected)

	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin(testAdminSecret))
	handler.RegisterAdminRoutes(admin)

	return &httpEnv{router: router, svc: svc, brand: b, apiKey: rawKey}
}

func (e *httpEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *httpEnv) asBrand() map[string]string {
	return map[string]string{"Authorization": "Bearer " + e.apiKey}
}

func TestProvisionEndpoint(t *testing.T) {
	env := newHTTPEnv(t)

	w := env.do("POST", "/v1/licenses",
		`{"customerEmail":"alice@example.com","product":"photo-editor"}`, env.asBrand())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		LicenseKey string `json:"licenseKey"`
		KeyCreated bool   `json:"keyCreated"`
		License    struct {
			ID        string `json:"id"`
			Status    string `json:"status"`
			SeatLimit int    `json:"seatLimit"`
		} `json:"license"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.LicenseKey)
	assert.True(t, resp.KeyCreated)
	assert.Equal(t, "valid", resp.License.Status)
	assert.Equal(t, 2, resp.License.SeatLimit)
}

func TestProvisionEndpoint_Unauthorized(t *testing.T) {
	env := newHTTPEnv(t)

	w := env.do("POST", "/v1/licenses",
		`{"customerEmail":"alice@example.com","product":"photo-editor"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do("POST", "/v1/licenses",
		`{"customerEmail":"alice@example.com","product":"photo-editor"}`,
		map[string]string{"Authorization": "Bearer bk_bogus"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProvisionEndpoint_Validation(t *testing.T) {
	env := newHTTPEnv(t)

	w := env.do("POST", "/v1/licenses", `{"customerEmail":"not-an-email","product":"photo-editor"}`, env.asBrand())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/v1/licenses", `{"customerEmail":"alice@example.com","product":"Bad Slug!"}`, env.asBrand())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/v1/licenses", `{"customerEmail":"alice@example.com","product":"no-such"}`, env.asBrand())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestActivateEndpoint(t *testing.T) {
	env := newHTTPEnv(t)

	result, err := env.svc.Provision(context.Background(), env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)

	body := fmt.Sprintf(`{"licenseKey":%q,"product":"photo-editor","instanceId":"machine-1"}`, result.Key.Key)
	w := env.do("POST", "/v1/activations", body, env.asBrand())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Seat limit is 2: two more distinct instances, second is rejected.
	body = fmt.Sprintf(`{"licenseKey":%q,"product":"photo-editor","instanceId":"machine-2"}`, result.Key.Key)
	w = env.do("POST", "/v1/activations", body, env.asBrand())
	require.Equal(t, http.StatusOK, w.Code)

	body = fmt.Sprintf(`{"licenseKey":%q,"product":"photo-editor","instanceId":"machine-3"}`, result.Key.Key)
	w = env.do("POST", "/v1/activations", body, env.asBrand())
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "seat_limit_reached", resp.Error)
}

func TestActivateEndpoint_UnknownKey(t *testing.T) {
	env := newHTTPEnv(t)

	w := env.do("POST", "/v1/activations",
		`{"licenseKey":"nope","product":"photo-editor","instanceId":"machine-1"}`, env.asBrand())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusEndpoint(t *testing.T) {
	env := newHTTPEnv(t)

	result, err := env.svc.Provision(context.Background(), env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)

	w := env.do("GET", "/v1/licenses/"+result.Key.Key+"/status?product=photo-editor", "", env.asBrand())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Status struct {
			ProductName    string `json:"productName"`
			IsValid        bool   `json:"isValid"`
			SeatLimit      int    `json:"seatLimit"`
			RemainingSeats int    `json:"remainingSeats"`
		} `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Photo Editor", resp.Status.ProductName)
	assert.True(t, resp.Status.IsValid)
	assert.Equal(t, 2, resp.Status.RemainingSeats)
}

func TestStatusEndpoint_Ambiguous(t *testing.T) {
	env := newHTTPEnv(t)
	ctx := context.Background()

	brands := env.svc.store.(*MemoryStore).brands
	require.NoError(t, brands.CreateProduct(ctx, &brand.Product{
		ID: "prod_2", BrandID: env.brand.ID,
		Name: "Video Editor", Slug: "video-editor",
		DefaultSeats: 5, CreatedAt: time.Now(),
	}))

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)
	_, err = env.svc.Provision(ctx, env.brand, "alice@example.com", "video-editor")
	require.NoError(t, err)

	w := env.do("GET", "/v1/licenses/"+result.Key.Key+"/status", "", env.asBrand())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ambiguous_key", resp.Error)
}

func TestAdminEndpoints(t *testing.T) {
	env := newHTTPEnv(t)
	ctx := context.Background()

	result, err := env.svc.Provision(ctx, env.brand, "alice@example.com", "photo-editor")
	require.NoError(t, err)

	// No secret
	w := env.do("GET", "/v1/admin/customers/alice@example.com/licenses", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Wrong secret
	w = env.do("GET", "/v1/admin/customers/alice@example.com/licenses", "",
		map[string]string{"X-Admin-Secret": "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	adminHeaders := map[string]string{"X-Admin-Secret": testAdminSecret}

	w = env.do("GET", "/v1/admin/customers/alice@example.com/licenses", "", adminHeaders)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var listResp struct {
		Count    int `json:"count"`
		Licenses []struct {
			BrandName string `json:"brandName"`
		} `json:"licenses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Equal(t, 1, listResp.Count)
	assert.Equal(t, "Acme Software", listResp.Licenses[0].BrandName)

	// Suspend via admin, then activation is refused.
	w = env.do("PATCH", "/v1/admin/licenses/"+result.License.ID+"/status",
		`{"status":"suspended"}`, adminHeaders)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := fmt.Sprintf(`{"licenseKey":%q,"product":"photo-editor","instanceId":"machine-1"}`, result.Key.Key)
	w = env.do("POST", "/v1/activations", body, env.asBrand())
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminSetStatus_Validation(t *testing.T) {
	env := newHTTPEnv(t)
	adminHeaders := map[string]string{"X-Admin-Secret": testAdminSecret}

	w := env.do("PATCH", "/v1/admin/licenses/lic_x/status", `{"status":"banana"}`, adminHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("PATCH", "/v1/admin/licenses/lic_missing/status", `{"status":"suspended"}`, adminHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
