package cache

import (
	"strings"
	"time"
)

const defaultSiteNameTTL = 5 * time.Minute

// SiteNameCache keeps display names for sites read on every handshake.
type SiteNameCache interface {
	GetSiteName(siteID string) (string, bool)
	SetSiteName(siteID, name string)
}

type siteNameCache struct {
	names Cache[string, string]
	ttl   time.Duration
}

func NewSiteNameCache() SiteNameCache {
	return &siteNameCache{
		names: NewTTLCache[string, string](),
		ttl:   defaultSiteNameTTL,
	}
}

func (c *siteNameCache) GetSiteName(siteID string) (string, bool) {
	return c.names.Get(strings.TrimSpace(siteID))
}

func (c *siteNameCache) SetSiteName(siteID, name string) {
	siteID = strings.TrimSpace(siteID)
	if siteID == "" || strings.TrimSpace(name) == "" {
		return
	}
	c.names.Set(siteID, name, c.ttl)
}
