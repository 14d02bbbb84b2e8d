package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/edgecount/internal/cache"
	"github.com/smallbiznis/edgecount/internal/site/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Cache cache.SiteNameCache `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	names cache.SiteNameCache
}

func New(p Params) domain.Service {
	names := p.Cache
	if names == nil {
		names = cache.NewSiteNameCache()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("site.service"),
		repo:  p.Repo,
		names: names,
	}
}

func (s *Service) Get(ctx context.Context, siteID string) (*domain.Site, error) {
	return s.repo.FindByID(ctx, s.db, strings.TrimSpace(siteID))
}

func (s *Service) DisplayName(ctx context.Context, siteID string) string {
	siteID = strings.TrimSpace(siteID)
	if siteID == "" {
		return ""
	}
	if name, ok := s.names.GetSiteName(siteID); ok {
		return name
	}

	site, err := s.repo.FindByID(ctx, s.db, siteID)
	if err != nil {
		s.log.Warn("site lookup failed, falling back to id", zap.String("site_id", siteID), zap.Error(err))
		return siteID
	}
	if site == nil || strings.TrimSpace(site.Name) == "" {
		return siteID
	}

	s.names.SetSiteName(siteID, site.Name)
	return site.Name
}
