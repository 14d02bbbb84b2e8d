package service_test

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/edgecount/internal/site/domain"
	"github.com/smallbiznis/edgecount/internal/site/repository"
	"github.com/smallbiznis/edgecount/internal/site/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestDisplayName(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Site{}))
	require.NoError(t, db.Create(&domain.Site{ID: "site-7", OrgID: "org-1", Name: "Harbour Gate"}).Error)

	svc := service.New(service.Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide()})
	ctx := context.Background()

	assert.Equal(t, "Harbour Gate", svc.DisplayName(ctx, "site-7"))
	assert.Equal(t, "site-unknown", svc.DisplayName(ctx, "site-unknown"))
	assert.Equal(t, "", svc.DisplayName(ctx, " "))

	// Cached names survive the row going away.
	require.NoError(t, db.Exec(`DELETE FROM sites WHERE id = ?`, "site-7").Error)
	assert.Equal(t, "Harbour Gate", svc.DisplayName(ctx, "site-7"))

	site, err := svc.Get(ctx, "site-7")
	require.NoError(t, err)
	assert.Nil(t, site)
}
