package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVivaFreshHarvest(t *testing.T) {
	launcher := &fakeLauncher{pages: map[string]string{}}
	launcher.pages[VivaFreshBase] = `<button>Pranoj</button>`
	launcher.pages[VivaFreshBase+"categories/?lvl2=13"] = `<div class="product-card">
		<a href="/product/1"><span class="product-title">Qumësht Vita 1L</span></a><span class="price">0,99 €</span></div>`
	launcher.pages[VivaFreshBase+"categories/?lvl2=14"] = `<p>Nuk ka produkte</p>`

	h := NewVivaFreshHarvester(launcher, defaultTestOptions(), nil)
	h.Categories = []int{13, 14, 15}

	offers, err := h.Harvest(context.Background(), NewContext("run", "Prishtina", time.Time{}, nil))
	require.NoError(t, err)
	require.Len(t, offers, 1, "empty and unreachable categories are skipped")
	assert.Equal(t, "Qumësht Vita 1L", offers[0].Name)
	assert.Equal(t, 0.99, offers[0].Price)
	assert.Equal(t, 1, launcher.sessions, "one session serves every category")
	assert.Equal(t, VivaFreshBase, launcher.visited[0])
}
