package core

import (
	"testing"

	"tierkv/pkg/common"
	"tierkv/pkg/value"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndRead(t *testing.T) {
	for _, s := range []Storage{newTestTiered(t, testStorageConfig(t)), newTestSingle(t)} {
		t.Run(s.Kind().String(), func(t *testing.T) {
			require.NoError(t, s.Put(1, []byte("hello")))
			got, err := Read(s, 1)
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), got)

			require.NoError(t, s.Put(1, []byte("bye")))
			got, err = Read(s, 1)
			require.NoError(t, err)
			assert.Equal(t, []byte("bye"), got, "a shorter write trims the payload")

			err = s.Put(1, []byte("too long"))
			assert.ErrorIs(t, err, common.ErrSlotTooSmall)

			_, err = Read(s, 2)
			assert.ErrorIs(t, err, common.ErrNotFound)
		})
	}
}

func TestShorterPutSurvivesEvictionAndPromotion(t *testing.T) {
	ts := newTestTiered(t, testStorageConfig(t))
	require.NoError(t, ts.Put(4, []byte("hello")))
	require.NoError(t, ts.Put(4, []byte("hi")))

	got, err := Read(ts, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), got)

	require.NoError(t, ts.Eviction([]common.KeyType{4}))
	got, err = Read(ts, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), got, "cold row holds the logical payload")

	h, err := ts.GetOrCreate(4, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), h.Bytes())
	assert.Equal(t, 5, h.Len(), "promotion restores the original allocation")

	require.NoError(t, ts.Put(4, []byte("world")))
	recs, err := Scan(ts, 4, 4)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []byte("world"), []byte(recs[0].Value))
}

func TestViewColdHitIsReleased(t *testing.T) {
	ts := newTestTiered(t, testStorageConfig(t))
	require.NoError(t, ts.Put(9, []byte("cold")))
	require.NoError(t, ts.Eviction([]common.KeyType{9}))

	var seen *value.Handle
	err := ts.View(9, func(h *value.Handle) error {
		seen = h
		assert.Equal(t, []byte("cold"), h.Bytes())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, seen.Released())
	assert.Equal(t, int64(0), ts.Allocator().Live())
	assert.Equal(t, common.TierCold, ts.LookupTier(9))
}

func TestViewPinsHotHandle(t *testing.T) {
	ts := newTestTiered(t, testStorageConfig(t))
	require.NoError(t, ts.Put(3, []byte("hot")))

	err := ts.View(3, func(h *value.Handle) error {
		require.NoError(t, ts.Eviction([]common.KeyType{3}))
		assert.True(t, h.Destroyed())
		assert.False(t, h.Released())
		assert.Equal(t, []byte("hot"), h.Bytes())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts.Allocator().Live())
}

func TestScan(t *testing.T) {
	ts := newTestTiered(t, testStorageConfig(t))
	for k := common.KeyType(1); k <= 10; k++ {
		require.NoError(t, ts.Put(k, []byte{byte(k)}))
	}
	require.NoError(t, ts.Eviction([]common.KeyType{2, 4, 6}))

	recs, err := Scan(ts, 3, 7)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	for i, r := range recs {
		assert.Equal(t, common.KeyType(3+i), r.Key)
		assert.Equal(t, []byte{byte(3 + i)}, []byte(r.Value))
	}
	assert.Equal(t, int64(7), ts.Allocator().Live())
}
