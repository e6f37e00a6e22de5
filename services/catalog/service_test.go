package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/georgeminyillahmensah/license-service/pkg/db/pagination"
	"github.com/georgeminyillahmensah/license-service/pkg/errutil"
	"github.com/georgeminyillahmensah/license-service/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Brand{}, &Product{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestCreateBrandGeneratesSlug(t *testing.T) {
	svc := newTestService(t)

	brand, err := svc.CreateBrand(context.Background(), &CreateBrandRequest{Name: "Acme Tools"})
	require.NoError(t, err)
	require.Equal(t, "acme-tools", brand.Slug)
	require.True(t, brand.IsActive)
	require.NotEmpty(t, brand.ID)
}

func TestCreateBrandDuplicateSlug(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateBrand(context.Background(), &CreateBrandRequest{Name: "Acme"})
	require.NoError(t, err)

	_, err = svc.CreateBrand(context.Background(), &CreateBrandRequest{Name: "Acme"})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
}

func TestGetBrandNotFound(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetBrand(context.Background(), "missing")
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestCreateProductRequiresActiveBrand(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateProduct(context.Background(), &CreateProductRequest{
		BrandID: "missing",
		Name:    "Widget",
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestCreateProductSlugUniquePerBrand(t *testing.T) {
	svc := newTestService(t)

	first, err := svc.CreateBrand(context.Background(), &CreateBrandRequest{Name: "Acme"})
	require.NoError(t, err)
	second, err := svc.CreateBrand(context.Background(), &CreateBrandRequest{Name: "Globex"})
	require.NoError(t, err)

	_, err = svc.CreateProduct(context.Background(), &CreateProductRequest{BrandID: first.ID, Name: "Widget"})
	require.NoError(t, err)

	_, err = svc.CreateProduct(context.Background(), &CreateProductRequest{BrandID: first.ID, Name: "Widget"})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())

	// same slug under another brand is fine
	_, err = svc.CreateProduct(context.Background(), &CreateProductRequest{BrandID: second.ID, Name: "Widget"})
	require.NoError(t, err)
}

func TestListBrandsPagination(t *testing.T) {
	svc := newTestService(t)

	for i := 0; i < 3; i++ {
		_, err := svc.CreateBrand(context.Background(), &CreateBrandRequest{Name: fmt.Sprintf("Brand %d", i)})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	first, err := svc.ListBrands(context.Background(), &ListBrandsRequest{
		Pagination: pagination.Pagination{Limit: 2},
	})
	require.NoError(t, err)
	require.Len(t, first.Brands, 2)
	require.True(t, first.PageInfo.HasMore)
	require.NotEmpty(t, first.PageInfo.NextCursor)

	rest, err := svc.ListBrands(context.Background(), &ListBrandsRequest{
		Pagination: pagination.Pagination{Cursor: first.PageInfo.NextCursor, Limit: 2},
	})
	require.NoError(t, err)
	require.Len(t, rest.Brands, 1)
	require.False(t, rest.PageInfo.HasMore)
}

func TestListProductsOnlyActive(t *testing.T) {
	svc := newTestService(t)

	brand, err := svc.CreateBrand(context.Background(), &CreateBrandRequest{Name: "Acme"})
	require.NoError(t, err)

	active, err := svc.CreateProduct(context.Background(), &CreateProductRequest{BrandID: brand.ID, Name: "Widget"})
	require.NoError(t, err)

	retired, err := svc.CreateProduct(context.Background(), &CreateProductRequest{BrandID: brand.ID, Name: "Old Widget"})
	require.NoError(t, err)
	require.NoError(t, svc.db.Model(&Product{}).Where("id = ?", retired.ID).Update("is_active", false).Error)

	products, err := svc.ListProducts(context.Background(), &ListProductsRequest{BrandID: brand.ID, OnlyActive: true})
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, active.ID, products[0].ID)
}
