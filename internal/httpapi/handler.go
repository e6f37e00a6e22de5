package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/georgeminyillahmensah/license-service/pkg/db/pagination"
	"github.com/georgeminyillahmensah/license-service/pkg/errutil"
	"github.com/georgeminyillahmensah/license-service/pkg/health"
	"github.com/georgeminyillahmensah/license-service/pkg/middleware"
	"github.com/georgeminyillahmensah/license-service/services/activation"
	"github.com/georgeminyillahmensah/license-service/services/catalog"
	"github.com/georgeminyillahmensah/license-service/services/entitlement"
	"github.com/georgeminyillahmensah/license-service/services/license"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewRouter),
)

type handler struct {
	catalog     *catalog.Service
	license     *license.Service
	activation  *activation.Service
	entitlement *entitlement.Service
}

type RouterParams struct {
	fx.In
	Health      health.HealthService
	Catalog     *catalog.Service
	License     *license.Service
	Activation  *activation.Service
	Entitlement *entitlement.Service
}

func NewRouter(p RouterParams) http.Handler {
	h := &handler{
		catalog:     p.Catalog,
		license:     p.License,
		activation:  p.Activation,
		entitlement: p.Entitlement,
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)

	v1 := r.Group("/v1")
	{
		v1.POST("/brands", h.createBrand)
		v1.GET("/brands", h.listBrands)
		v1.GET("/brands/:id", h.getBrand)
		v1.POST("/products", h.createProduct)
		v1.GET("/products", h.listProducts)

		v1.POST("/licenses", h.provision)
		v1.GET("/licenses/:id", h.getLicense)
		v1.GET("/licenses/:id/seats", h.availableSeats)
		v1.POST("/licenses/:id/renew", h.renew)
		v1.POST("/licenses/:id/suspend", h.suspend)
		v1.POST("/licenses/:id/resume", h.resume)
		v1.POST("/licenses/:id/cancel", h.cancel)

		v1.POST("/activations", h.activate)
		v1.POST("/activations/:id/deactivate", h.deactivate)
		v1.POST("/activations/bulk-deactivate", h.bulkDeactivate)

		v1.POST("/entitlements/check", h.checkStatus)
	}

	return r
}

func (h *handler) createBrand(c *gin.Context) {
	var req catalog.CreateBrandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	brand, err := h.catalog.CreateBrand(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, brand)
}

func (h *handler) getBrand(c *gin.Context) {
	brand, err := h.catalog.GetBrand(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, brand)
}

func (h *handler) listBrands(c *gin.Context) {
	resp, err := h.catalog.ListBrands(c.Request.Context(), &catalog.ListBrandsRequest{
		Pagination: pagination.Pagination{
			Cursor: c.Query("cursor"),
			Limit:  intQuery(c, "limit"),
		},
		OnlyActive: c.Query("only_active") == "true",
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *handler) createProduct(c *gin.Context) {
	var req catalog.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, product)
}

func (h *handler) listProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context(), &catalog.ListProductsRequest{
		BrandID:    c.Query("brand_id"),
		OnlyActive: c.Query("only_active") == "true",
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *handler) provision(c *gin.Context) {
	var req license.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	resp, err := h.license.Provision(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *handler) getLicense(c *gin.Context) {
	lic, err := h.license.GetLicense(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"license":          lic,
		"effective_status": lic.EffectiveStatus(time.Now()),
	})
}

func (h *handler) availableSeats(c *gin.Context) {
	available, err := h.activation.AvailableSeats(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"available_seats": available})
}

func (h *handler) renew(c *gin.Context) {
	var body struct {
		NewExpiration time.Time `json:"new_expiration" binding:"required"`
		Reason        string    `json:"reason"`
		Actor         string    `json:"actor"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	lic, err := h.license.Renew(c.Request.Context(), &license.RenewRequest{
		LicenseID:     c.Param("id"),
		NewExpiration: body.NewExpiration,
		Reason:        body.Reason,
		Actor:         body.Actor,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, lic)
}

func (h *handler) suspend(c *gin.Context) {
	var body struct {
		Reason string `json:"reason" binding:"required"`
		Actor  string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	lic, err := h.license.Suspend(c.Request.Context(), &license.SuspendRequest{
		LicenseID: c.Param("id"),
		Reason:    body.Reason,
		Actor:     body.Actor,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, lic)
}

func (h *handler) resume(c *gin.Context) {
	var body struct {
		Actor string `json:"actor"`
	}
	_ = c.ShouldBindJSON(&body)

	lic, err := h.license.Resume(c.Request.Context(), &license.ResumeRequest{
		LicenseID: c.Param("id"),
		Actor:     body.Actor,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, lic)
}

func (h *handler) cancel(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
		Actor  string `json:"actor"`
	}
	_ = c.ShouldBindJSON(&body)

	lic, err := h.license.Cancel(c.Request.Context(), &license.CancelRequest{
		LicenseID: c.Param("id"),
		Reason:    body.Reason,
		Actor:     body.Actor,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, lic)
}

func (h *handler) activate(c *gin.Context) {
	var req activation.ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	resp, err := h.activation.Activate(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	status := http.StatusCreated
	if resp.AlreadyActive {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func (h *handler) deactivate(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
		Actor  string `json:"actor"`
	}
	_ = c.ShouldBindJSON(&body)

	act, err := h.activation.Deactivate(c.Request.Context(), &activation.DeactivateRequest{
		ActivationID: c.Param("id"),
		Reason:       body.Reason,
		Actor:        body.Actor,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, act)
}

func (h *handler) bulkDeactivate(c *gin.Context) {
	var req activation.BulkDeactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	resp, err := h.activation.BulkDeactivate(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *handler) checkStatus(c *gin.Context) {
	var req entitlement.CheckStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	resp, err := h.entitlement.CheckStatus(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	if !resp.Valid {
		c.JSON(http.StatusNotFound, resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func intQuery(c *gin.Context, name string) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return n
}
