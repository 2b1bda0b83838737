package repo_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alkahf/storefront/internal/promotion"
	"github.com/alkahf/storefront/internal/repo"
)

func TestDecodePromotion(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	p, err := repo.DecodePromotion("p1", []byte(`{"title":"Spring","type":"general","appliesTo":"books","amount":20,"startDate":"2026-03-01","endDate":"2026-03-31","active":true}`), madrid)
	require.NoError(t, err)
	require.Equal(t, promotion.KindGeneral, p.Kind)
	require.Equal(t, promotion.ScopeBooks, p.Scope)
	require.Equal(t, 20, p.DiscountPercent())
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, madrid), *p.StartsAt)
	require.True(t, p.InWindow(time.Date(2026, 3, 31, 23, 30, 0, 0, madrid)), "end date covers the whole day")
	require.False(t, p.InWindow(time.Date(2026, 4, 1, 0, 0, 1, 0, madrid)))

	p, err = repo.DecodePromotion("p2", []byte(`{"type":"code","amount":15,"code":" SPRING15 ","active":true,"endDate":"2026-03-31T18:00:00Z"}`), nil)
	require.NoError(t, err)
	require.Equal(t, "SPRING15", p.Code)
	require.Equal(t, promotion.ScopeAll, p.Scope)
	require.Equal(t, time.Date(2026, 3, 31, 18, 0, 0, 0, time.UTC), p.EndsAt.UTC())

	p, err = repo.DecodePromotion("p3", []byte(`{"title":"Free bookmark with every order","type":"announce","active":true}`), nil)
	require.NoError(t, err)
	require.Nil(t, p.Percent)
	require.Zero(t, p.DiscountPercent())
}

func TestDecodePromotionRejectsInvalidRecords(t *testing.T) {
	cases := map[string]string{
		"percent string": `{"type":"general","amount":"20%","active":true}`,
		"fraction":       `{"type":"general","amount":12.5,"active":true}`,
		"over 100":       `{"type":"code","code":"X","amount":120,"active":true}`,
		"missing amount": `{"type":"general","active":true}`,
		"unknown type":   `{"type":"bogo","amount":10,"active":true}`,
		"unknown scope":  `{"type":"general","appliesTo":"ebooks","amount":10,"active":true}`,
		"code w/o code":  `{"type":"code","amount":10,"active":true}`,
		"bad date":       `{"type":"general","amount":10,"startDate":"01/03/2026","active":true}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := repo.DecodePromotion("bad", []byte(raw), nil)
			require.Error(t, err)
		})
	}
	_, err := repo.DecodePromotion("bad", []byte(`{"type":"general","amount":"20%","active":true}`), nil)
	require.ErrorIs(t, err, promotion.ErrInvalidPercent)
}
