package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpc/config"
	"kpc/models"
)

func TestBuildKeepsUnavailableSources(t *testing.T) {
	cfg := &config.Config{Harvest: testHarvestConfig()}
	cfg.Sources.Maxi = true
	cfg.Sources.Interex = true
	cfg.Sources.SparFlyer = true

	hs := Build(cfg, Deps{}, nil)
	require.Len(t, hs, 3)

	var slugs []string
	for _, h := range hs {
		slugs = append(slugs, h.Slug())
	}
	assert.Equal(t, []string{"maxi", "interex", "spar-flyer"}, slugs)

	_, err := hs[1].Harvest(context.Background(), NewContext("run", "Prishtina", time.Time{}, nil))
	assert.ErrorIs(t, err, models.ErrMissingConfig)
	_, err = hs[2].Harvest(context.Background(), NewContext("run", "Prishtina", time.Time{}, nil))
	assert.ErrorIs(t, err, models.ErrMissingConfig)
}
