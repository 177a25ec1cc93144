package history

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herd-monitor/dashboard/internal/domain"
)

var base = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func point(device string, offset time.Duration, lat, lon float64) domain.LivePoint {
	return domain.LivePoint{
		DeviceID: device,
		TS:       domain.FromTime(base.Add(offset)),
		Lat:      domain.Float(lat),
		Lon:      domain.Float(lon),
	}
}

func identities(points []domain.LivePoint) []domain.Identity {
	out := make([]domain.Identity, len(points))
	for i, p := range points {
		out[i] = p.Identity()
	}
	return out
}

func TestMergeBatchOrdersAndDedupes(t *testing.T) {
	s := NewStore(10)

	s.MergeBatch("c1", []domain.LivePoint{
		point("c1", 2*time.Minute, 1, 1),
		point("c1", 0, 1, 1),
		point("c1", time.Minute, 1, 1),
	})
	res := s.MergeBatch("c1", []domain.LivePoint{
		point("c1", time.Minute, 1, 1),
		point("c1", 3*time.Minute, 1, 1),
	})

	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 0, res.Dropped)
	h := s.History("c1")
	require.Len(t, h, 4)
	for i := 1; i < len(h); i++ {
		assert.LessOrEqual(t, h[i-1].Timestamp(), h[i].Timestamp())
	}
}

func TestMergeFirstSeenWins(t *testing.T) {
	first := point("c1", 0, 1, 1)
	first.BatteryPct = domain.Float(90)
	second := point("c1", 0, 1, 1)
	second.BatteryPct = domain.Float(10)

	got := Merge(nil, []domain.LivePoint{first, second}, 10)
	require.Len(t, got, 1)
	assert.Equal(t, 90.0, *got[0].BatteryPct)

	got = Merge([]domain.LivePoint{first}, []domain.LivePoint{second}, 10)
	require.Len(t, got, 1)
	assert.Equal(t, 90.0, *got[0].BatteryPct)
}

func TestSameTimestampDifferentCoordinatesAreDistinct(t *testing.T) {
	got := Merge(nil, []domain.LivePoint{
		point("c1", 0, 1, 1),
		point("c1", 0, 1, 2),
	}, 10)
	assert.Len(t, got, 2)
}

func TestSignedZeroCoordinatesCollapse(t *testing.T) {
	got := Merge(nil, []domain.LivePoint{
		point("c1", 0, 0, 152.9),
		point("c1", 0, math.Copysign(0, -1), 152.9),
	}, 10)
	assert.Len(t, got, 1)
}

func TestFrameCounterIsPartOfIdentity(t *testing.T) {
	a := point("c1", 0, 1, 1)
	a.FrameCounter = domain.Int(41)
	b := point("c1", 0, 1, 1)
	b.FrameCounter = domain.Int(42)
	c := point("c1", 0, 1, 1)

	got := Merge(nil, []domain.LivePoint{a, b, c, a}, 10)
	assert.Len(t, got, 3)
}

func TestUnparseableTimestampSortsFirst(t *testing.T) {
	bad := point("c1", 0, 5, 5)
	bad.TS = "not a time"
	missing := domain.LivePoint{DeviceID: "c1", Lat: domain.Float(6), Lon: domain.Float(6)}

	got := Merge(nil, []domain.LivePoint{point("c1", time.Minute, 1, 1), bad, missing}, 10)
	require.Len(t, got, 3)
	assert.Zero(t, got[0].Timestamp())
	assert.Zero(t, got[1].Timestamp())
	assert.NotZero(t, got[2].Timestamp())
}

func TestWindowKeepsMostRecent(t *testing.T) {
	s := NewStore(5)
	for i := 0; i < 12; i++ {
		s.MergeBatch("c1", []domain.LivePoint{point("c1", time.Duration(i)*time.Minute, 1, float64(i))})
		assert.LessOrEqual(t, len(s.History("c1")), 5)
	}

	h := s.History("c1")
	require.Len(t, h, 5)
	assert.Equal(t, base.Add(7*time.Minute).UnixMilli(), h[0].Timestamp())
	assert.Equal(t, base.Add(11*time.Minute).UnixMilli(), h[4].Timestamp())

	// an old point arriving late never displaces newer ones
	res := s.MergeBatch("c1", []domain.LivePoint{point("c1", -time.Hour, 1, 1)})
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, base.Add(7*time.Minute).UnixMilli(), s.History("c1")[0].Timestamp())
}

func TestMergeIsIdempotent(t *testing.T) {
	h := []domain.LivePoint{point("c1", 0, 1, 1), point("c1", time.Minute, 1, 2)}
	p := []domain.LivePoint{point("c1", 30*time.Second, 2, 2), point("c1", time.Minute, 1, 2), point("c1", 2*time.Minute, 3, 3)}

	once := Merge(h, p, 4)
	twice := Merge(once, p, 4)
	if diff := cmp.Diff(identities(once), identities(twice)); diff != "" {
		t.Fatalf("merge not idempotent (-once +twice):\n%s", diff)
	}
}

func TestMergeIsOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		var h, a, b []domain.LivePoint
		for i := 0; i < 20; i++ {
			p := point("c1", time.Duration(rng.Intn(30))*time.Second, float64(rng.Intn(3)), float64(i))
			switch i % 3 {
			case 0:
				h = append(h, p)
			case 1:
				a = append(a, p)
			default:
				b = append(b, p)
			}
		}
		window := 1 + rng.Intn(15)

		ab := Merge(Merge(h, a, window), b, window)
		ba := Merge(Merge(h, b, window), a, window)
		if diff := cmp.Diff(identities(ab), identities(ba)); diff != "" {
			t.Fatalf("round %d: order dependent (-ab +ba):\n%s", round, diff)
		}
	}
}

func TestDuplicatesCollapseRegardlessOfArrivalOrder(t *testing.T) {
	p1 := point("c1", 0, 1, 1)
	p2 := point("c1", time.Minute, 1, 1)
	forward := Merge(nil, []domain.LivePoint{p1, p2, p1, p2}, 10)
	backward := Merge(nil, []domain.LivePoint{p2, p1, p2, p1}, 10)
	assert.Equal(t, identities(forward), identities(backward))
	assert.Len(t, forward, 2)
}

func TestReplaceSnapshotReconcilesWithStream(t *testing.T) {
	s := NewStore(10)
	s.MergeBatch("c1", []domain.LivePoint{point("c1", 2*time.Minute, 1, 1)})
	s.ReplaceSnapshot("c1", []domain.LivePoint{point("c1", time.Minute, 1, 1), point("c1", 2*time.Minute, 1, 1)})

	assert.Len(t, s.History("c1"), 2)
}

func TestMergeBatchIgnoresForeignDevices(t *testing.T) {
	s := NewStore(10)
	res := s.MergeBatch("c1", []domain.LivePoint{point("c2", 0, 1, 1)})
	assert.Equal(t, 0, res.Len)
	assert.Empty(t, s.DeviceIDs())
}

func TestMergeAllAndListeners(t *testing.T) {
	s := NewStore(10)
	var seen []MergeResult
	s.OnMerge(func(r MergeResult) { seen = append(seen, r) })

	results := s.MergeAll([]domain.LivePoint{
		point("c2", 0, 1, 1),
		point("c1", 0, 1, 1),
		point("c2", time.Minute, 1, 1),
	})
	require.Len(t, results, 2)
	assert.Equal(t, "c2", results[0].DeviceID)
	assert.Equal(t, 2, results[0].Added)
	assert.Equal(t, []string{"c1", "c2"}, s.DeviceIDs())
	assert.Len(t, seen, 2)

	latest, ok := s.Latest("c2")
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Minute).UnixMilli(), latest.Timestamp())
}

func TestHistoryIsNotMutatedByLaterMerges(t *testing.T) {
	s := NewStore(3)
	s.MergeBatch("c1", []domain.LivePoint{point("c1", 0, 1, 1), point("c1", time.Minute, 1, 1)})
	held := s.History("c1")
	before := identities(held)

	s.MergeBatch("c1", []domain.LivePoint{point("c1", 2*time.Minute, 1, 1), point("c1", 3*time.Minute, 1, 1)})
	assert.Equal(t, before, identities(held))
}
