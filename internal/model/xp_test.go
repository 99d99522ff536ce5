package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	cases := map[int]int{
		0:    1,
		499:  1,
		500:  2,
		999:  2,
		1000: 3,
		4999: 10,
		5000: 11,
	}
	for xp, want := range cases {
		assert.Equal(t, want, LevelFor(xp), "xp=%d", xp)
	}
}

func TestApplyGrant_Additive(t *testing.T) {
	first, err := ApplyGrant(XPAccount{}, 100)
	require.NoError(t, err)
	second, err := ApplyGrant(XPAccount{TotalXP: first.NewXP, TotalLevel: first.NewLevel}, 100)
	require.NoError(t, err)

	once, err := ApplyGrant(XPAccount{}, 200)
	require.NoError(t, err)

	assert.Equal(t, 200, second.NewXP)
	assert.Equal(t, once.NewXP, second.NewXP)
	assert.Equal(t, once.NewLevel, second.NewLevel)
}

func TestApplyGrant_LevelUp(t *testing.T) {
	out, err := ApplyGrant(XPAccount{TotalXP: 450, TotalLevel: 1}, 100)
	require.NoError(t, err)
	assert.Equal(t, 550, out.NewXP)
	assert.Equal(t, 2, out.NewLevel)
	assert.True(t, out.LeveledUp)

	out, err = ApplyGrant(XPAccount{TotalXP: 50, TotalLevel: 1}, 50)
	require.NoError(t, err)
	assert.Equal(t, 100, out.NewXP)
	assert.Equal(t, 1, out.NewLevel)
	assert.False(t, out.LeveledUp)
}

func TestApplyGrant_FreshAccount(t *testing.T) {
	out, err := ApplyGrant(XPAccount{}, 100)
	require.NoError(t, err)
	assert.False(t, out.LeveledUp)

	out, err = ApplyGrant(XPAccount{}, 500)
	require.NoError(t, err)
	assert.Equal(t, 2, out.NewLevel)
	assert.True(t, out.LeveledUp)
}

func TestApplyGrant_RejectsNonPositive(t *testing.T) {
	_, err := ApplyGrant(XPAccount{TotalXP: 300, TotalLevel: 1}, -50)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = ApplyGrant(XPAccount{}, 0)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
}

func TestLevelProgress(t *testing.T) {
	assert.Equal(t, Progress{Level: 1, XPIntoLevel: 0, XPToNextLevel: 500}, LevelProgress(0))
	assert.Equal(t, Progress{Level: 2, XPIntoLevel: 50, XPToNextLevel: 450}, LevelProgress(550))
}
