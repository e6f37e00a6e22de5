package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/georgeminyillahmensah/license-service/pkg/health"
	"github.com/georgeminyillahmensah/license-service/pkg/keygen"
	"github.com/georgeminyillahmensah/license-service/services/activation"
	"github.com/georgeminyillahmensah/license-service/services/catalog"
	"github.com/georgeminyillahmensah/license-service/services/entitlement"
	"github.com/georgeminyillahmensah/license-service/services/license"
	"github.com/georgeminyillahmensah/license-service/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	db := testutil.NewTestDB(t,
		&catalog.Brand{},
		&catalog.Product{},
		&license.LicenseKey{},
		&license.License{},
		&license.Event{},
		&activation.Activation{},
	)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	return NewRouter(RouterParams{
		Health:      health.ProvideHealth(health.HealthParams{DB: db}),
		Catalog:     catalog.NewService(catalog.ServiceParams{DB: db, Node: node}),
		License:     license.NewService(license.ServiceParams{DB: db, Node: node, Keygen: keygen.NewUUIDGenerator()}),
		Activation:  activation.NewService(activation.ServiceParams{DB: db, Node: node}),
		Entitlement: entitlement.NewService(entitlement.ServiceParams{DB: db}),
	})
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProvisionActivateCheckFlow(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/brands", gin.H{"name": "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var brand catalog.Brand
	decode(t, rec, &brand)

	rec = doJSON(t, router, http.MethodPost, "/v1/products", gin.H{"brand_id": brand.ID, "name": "Widget Pro"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var product catalog.Product
	decode(t, rec, &product)

	rec = doJSON(t, router, http.MethodPost, "/v1/licenses", gin.H{
		"customer_email":  "buyer@example.com",
		"brand_id":        brand.ID,
		"product_id":      product.ID,
		"seats":           2,
		"expiration_date": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var provisioned license.ProvisionResponse
	decode(t, rec, &provisioned)
	require.NotEmpty(t, provisioned.LicenseKey.Key)

	rec = doJSON(t, router, http.MethodPost, "/v1/activations", gin.H{
		"license_key":         provisioned.LicenseKey.Key,
		"product_slug":        product.Slug,
		"instance_identifier": "host-a",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var activated activation.ActivateResponse
	decode(t, rec, &activated)
	require.Equal(t, 1, activated.AvailableSeats)

	// repeating the same instance is idempotent and renders 200
	rec = doJSON(t, router, http.MethodPost, "/v1/activations", gin.H{
		"license_key":         provisioned.LicenseKey.Key,
		"product_slug":        product.Slug,
		"instance_identifier": "host-a",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/entitlements/check", gin.H{
		"license_key":         provisioned.LicenseKey.Key,
		"instance_identifier": "host-a",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var status entitlement.CheckStatusResponse
	decode(t, rec, &status)
	require.True(t, status.Valid)
	require.Len(t, status.Licenses, 1)
	require.Equal(t, 1, status.Licenses[0].AvailableSeats)
}

func TestLifecycleErrorMapping(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/brands", gin.H{"name": "Acme"})
	var brand catalog.Brand
	decode(t, rec, &brand)

	rec = doJSON(t, router, http.MethodPost, "/v1/products", gin.H{"brand_id": brand.ID, "name": "Widget"})
	var product catalog.Product
	decode(t, rec, &product)

	rec = doJSON(t, router, http.MethodPost, "/v1/licenses", gin.H{
		"customer_email":  "buyer@example.com",
		"brand_id":        brand.ID,
		"product_id":      product.ID,
		"expiration_date": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var provisioned license.ProvisionResponse
	decode(t, rec, &provisioned)
	licenseID := provisioned.License.ID

	// suspending twice is an illegal transition and renders 422
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/v1/licenses/%s/suspend", licenseID), gin.H{"reason": "abuse"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/v1/licenses/%s/suspend", licenseID), gin.H{"reason": "abuse"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// unknown license renders 404
	rec = doJSON(t, router, http.MethodPost, "/v1/licenses/missing/cancel", gin.H{"reason": "cleanup"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// activating against a suspended license renders 422
	rec = doJSON(t, router, http.MethodPost, "/v1/activations", gin.H{
		"license_key":         provisioned.LicenseKey.Key,
		"product_slug":        product.Slug,
		"instance_identifier": "host-a",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// missing body fields render 400
	rec = doJSON(t, router, http.MethodPost, "/v1/activations", gin.H{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// a key with no currently valid license renders the negative outcome as 404
	rec = doJSON(t, router, http.MethodPost, "/v1/entitlements/check", gin.H{
		"license_key": provisioned.LicenseKey.Key,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	var status entitlement.CheckStatusResponse
	decode(t, rec, &status)
	require.False(t, status.Valid)
	require.Equal(t, "no currently valid license", status.Message)

	// an unknown key as well
	rec = doJSON(t, router, http.MethodPost, "/v1/entitlements/check", gin.H{
		"license_key": "unknown",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
