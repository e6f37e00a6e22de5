package catalog

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/georgeminyillahmensah/license-service/pkg/db/option"
	"github.com/georgeminyillahmensah/license-service/pkg/db/pagination"
	"github.com/georgeminyillahmensah/license-service/pkg/errutil"
	"github.com/georgeminyillahmensah/license-service/pkg/repository"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	brand   repository.Repository[Brand]
	product repository.Repository[Product]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		brand:   repository.ProvideStore[Brand](p.DB),
		product: repository.ProvideStore[Product](p.DB),
	}
}

type CreateBrandRequest struct {
	Name        string `json:"name" binding:"required"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

func (s *Service) CreateBrand(ctx context.Context, req *CreateBrandRequest) (*Brand, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	slugName := req.Slug
	if slugName == "" {
		slugName = slug.Make(req.Name)
	}

	exist, err := s.brand.FindOne(ctx, &Brand{Slug: slugName})
	if err != nil {
		zapLog.Error("failed query get brand by slug", zap.Error(err))
		return nil, errutil.Internal("failed to check existing brand", err)
	}

	if exist != nil {
		zapLog.Warn("brand already exists", zap.String("slug", slugName))
		return nil, errutil.Conflict("brand already exists", nil)
	}

	brand := &Brand{
		ID:          s.node.Generate().String(),
		Name:        req.Name,
		Slug:        slugName,
		Description: req.Description,
		IsActive:    true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := s.brand.Create(ctx, brand); err != nil {
		zapLog.Error("failed to create brand", zap.Error(err))
		return nil, errutil.Internal("failed to create brand", err)
	}

	return brand, nil
}

func (s *Service) GetBrand(ctx context.Context, brandID string) (*Brand, error) {
	brand, err := s.brand.FindOne(ctx, &Brand{ID: brandID})
	if err != nil {
		return nil, errutil.Internal("failed to get brand", err)
	}

	if brand == nil {
		return nil, errutil.NotFound("brand not found", nil)
	}

	return brand, nil
}

type ListBrandsRequest struct {
	Pagination pagination.Pagination
	OnlyActive bool
}

type ListBrandsResponse struct {
	Brands   []*Brand             `json:"brands"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

func (s *Service) ListBrands(ctx context.Context, req *ListBrandsRequest) (*ListBrandsResponse, error) {
	query := &Brand{}
	if req.OnlyActive {
		query.IsActive = true
	}

	limit := req.Pagination.Limit
	if limit <= 0 {
		limit = 10
	}

	// fetch one extra row to detect whether another page exists
	brands, err := s.brand.Find(ctx, query,
		option.ApplyPagination(pagination.Pagination{Cursor: req.Pagination.Cursor, Limit: limit + 1}),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
	if err != nil {
		zap.L().Error("failed to list brands", zap.Error(err))
		return nil, errutil.Internal("failed to list brands", err)
	}

	brands, pageInfo := pagination.BuildPageInfo(brands, limit, func(b *Brand) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        b.ID,
		})
		return cursor
	})

	return &ListBrandsResponse{Brands: brands, PageInfo: pageInfo}, nil
}

type CreateProductRequest struct {
	BrandID     string `json:"brand_id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

func (s *Service) CreateProduct(ctx context.Context, req *CreateProductRequest) (*Product, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	brand, err := s.brand.FindOne(ctx, &Brand{ID: req.BrandID})
	if err != nil {
		zapLog.Error("failed query get brand by id", zap.Error(err))
		return nil, errutil.Internal("failed to resolve brand", err)
	}

	if brand == nil || !brand.IsActive {
		return nil, errutil.NotFound("brand not found or inactive", nil)
	}

	slugName := req.Slug
	if slugName == "" {
		slugName = slug.Make(req.Name)
	}

	exist, err := s.product.FindOne(ctx, &Product{BrandID: brand.ID, Slug: slugName})
	if err != nil {
		zapLog.Error("failed query get product by slug", zap.Error(err))
		return nil, errutil.Internal("failed to check existing product", err)
	}

	if exist != nil {
		zapLog.Warn("product already exists", zap.String("brand_id", brand.ID), zap.String("slug", slugName))
		return nil, errutil.Conflict("product already exists for this brand", nil)
	}

	product := &Product{
		ID:          s.node.Generate().String(),
		BrandID:     brand.ID,
		Name:        req.Name,
		Slug:        slugName,
		Description: req.Description,
		IsActive:    true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := s.product.Create(ctx, product); err != nil {
		zapLog.Error("failed to create product", zap.Error(err))
		return nil, errutil.Internal("failed to create product", err)
	}

	return product, nil
}

type ListProductsRequest struct {
	BrandID    string
	OnlyActive bool
}

func (s *Service) ListProducts(ctx context.Context, req *ListProductsRequest) ([]*Product, error) {
	query := &Product{BrandID: req.BrandID}
	if req.OnlyActive {
		query.IsActive = true
	}

	products, err := s.product.Find(ctx, query)
	if err != nil {
		zap.L().Error("failed to list products", zap.Error(err))
		return nil, errutil.Internal("failed to list products", err)
	}

	return products, nil
}
