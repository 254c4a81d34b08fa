package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orderdeck/orderdeck/internal/entity"
)

func TestStatusValid(t *testing.T) {
	for _, s := range []entity.Status{
		entity.StatusDraft,
		entity.StatusNew,
		entity.StatusClaimed,
		entity.StatusInProgress,
		entity.StatusDone,
		entity.StatusCanceled,
	} {
		assert.True(t, s.Valid(), s.String())
	}

	assert.False(t, entity.Status("SHIPPED").Valid())
	assert.False(t, entity.Status("").Valid())
}

func TestStatusCanTransition(t *testing.T) {
	cases := []struct {
		from, to entity.Status
		want     bool
	}{
		{entity.StatusDraft, entity.StatusNew, true},
		{entity.StatusDraft, entity.StatusCanceled, true},
		{entity.StatusDraft, entity.StatusClaimed, false},
		{entity.StatusNew, entity.StatusClaimed, true},
		{entity.StatusNew, entity.StatusCanceled, true},
		{entity.StatusNew, entity.StatusDone, false},
		{entity.StatusClaimed, entity.StatusInProgress, true},
		{entity.StatusClaimed, entity.StatusNew, false},
		{entity.StatusInProgress, entity.StatusDone, true},
		{entity.StatusInProgress, entity.StatusClaimed, false},
		{entity.StatusDone, entity.StatusCanceled, false},
		{entity.StatusCanceled, entity.StatusNew, false},
	}

	for _, tc := range cases {
		got := tc.from.CanTransition(tc.to)
		assert.Equal(t, tc.want, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, entity.StatusDone.Terminal())
	assert.True(t, entity.StatusCanceled.Terminal())
	assert.False(t, entity.StatusNew.Terminal())
	assert.False(t, entity.StatusDraft.Terminal())
	assert.False(t, entity.Status("SHIPPED").Terminal())
}

func TestStatusClaimed(t *testing.T) {
	assert.True(t, entity.StatusClaimed.Claimed())
	assert.True(t, entity.StatusInProgress.Claimed())
	assert.True(t, entity.StatusDone.Claimed())
	assert.False(t, entity.StatusDraft.Claimed())
	assert.False(t, entity.StatusNew.Claimed())
	assert.False(t, entity.StatusCanceled.Claimed())
}
