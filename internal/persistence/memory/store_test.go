package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/exledger/internal/ledger"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNext_StrictlyIncreasingUnderContention(t *testing.T) {
	s := New()
	ctx := context.Background()

	const workers, perWorker = 8, 50
	ids := make(chan ledger.ID, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last ledger.ID
			for i := 0; i < perWorker; i++ {
				id, err := s.Next(ctx, nil, ledger.CounterBalance)
				assert.NoError(t, err)
				assert.Greater(t, id, last)
				last = id
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[ledger.ID]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestNext_UnknownCounter(t *testing.T) {
	_, err := New().Next(context.Background(), nil, "widgets")
	assert.ErrorIs(t, err, ledger.ErrAllocationFailure)
}

func TestBalanceQueryIsAppendOnly(t *testing.T) {
	s := New()
	ctx := context.Background()

	btc, err := s.UpsertCurrency(ctx, "BTC", "")
	require.NoError(t, err)
	require.Equal(t, ledger.ID(1), btc.ID)

	st0, err := s.Stamp(ctx, t0)
	require.NoError(t, err)
	require.Equal(t, ledger.ID(1), st0.ID)

	first, err := s.AddBalance(ctx, btc.ID, st0.ID, dec("0.5"), dec("0.0"))
	require.NoError(t, err)

	got, err := s.BalancesAt(ctx, []ledger.ID{st0.ID})
	require.NoError(t, err)
	require.Equal(t, []ledger.Balance{first}, got)

	st1, err := s.Stamp(ctx, t0.Add(5*time.Minute))
	require.NoError(t, err)
	_, err = s.AddBalance(ctx, btc.ID, st1.ID, dec("0.7"), dec("0.1"))
	require.NoError(t, err)

	got, err = s.BalancesAt(ctx, []ledger.ID{st0.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Available.Equal(dec("0.5")))
	assert.True(t, got[0].Pending.IsZero())
}

func TestStampDeduplicatesNormalizedInstant(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, err := s.Stamp(ctx, t0.Add(100*time.Millisecond))
	require.NoError(t, err)
	b, err := s.Stamp(ctx, t0.In(time.FixedZone("JST", 9*3600)).Add(900*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, t0, a.Instant)
}

func TestStampSelection(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := s.Stamp(ctx, t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	in, err := s.StampsBetween(ctx, ledger.TimeRange{From: t0.Add(30 * time.Minute), To: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, in, 2)
	assert.Equal(t, t0.Add(time.Hour), in[0].Instant)

	first, err := s.FirstStampAtOrAfter(ctx, t0.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Hour), first.Instant)

	last, err := s.LatestStampAtOrBefore(ctx, t0.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), last.Instant)

	latest, err := s.LatestStampAtOrBefore(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(3*time.Hour), latest.Instant)

	_, err = s.FirstStampAtOrAfter(ctx, t0.Add(24*time.Hour))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestReferencesMustExist(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.AddBalance(ctx, 1, 1, dec("1"), decimal.Zero)
	assert.ErrorIs(t, err, ledger.ErrReferenceNotFound)

	_, err = s.EnsureMarket(ctx, 1, 2)
	assert.ErrorIs(t, err, ledger.ErrReferenceNotFound)

	// A rejected insert must not consume an identifier.
	c, err := s.UpsertCurrency(ctx, "eth", "Ether")
	require.NoError(t, err)
	assert.Equal(t, ledger.ID(1), c.ID)
	assert.Equal(t, "ETH", c.Symbol)
}

func setupMarket(t *testing.T, s *Store) (ledger.Market, ledger.Stamp, ledger.Stamp) {
	t.Helper()
	ctx := context.Background()
	btc, err := s.UpsertCurrency(ctx, "BTC", "Bitcoin")
	require.NoError(t, err)
	jpy, err := s.UpsertCurrency(ctx, "JPY", "Yen")
	require.NoError(t, err)
	m, err := s.EnsureMarket(ctx, btc.ID, jpy.ID)
	require.NoError(t, err)
	st0, err := s.Stamp(ctx, t0)
	require.NoError(t, err)
	st1, err := s.Stamp(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	return m, st0, st1
}

func newOrder(market, stamp ledger.ID, state ledger.OrderState) ledger.NewOrder {
	return ledger.NewOrder{
		RemoteID:      "tx-1",
		Market:        market,
		Stamp:         stamp,
		Price:         dec("5000000"),
		BaseQuantity:  dec("0.01"),
		QuoteQuantity: dec("50000"),
		Side:          ledger.OrderBuy,
		Kind:          ledger.OrderLimit,
		State:         state,
	}
}

func TestOrderCannotReturnToOpen(t *testing.T) {
	s := New()
	ctx := context.Background()
	m, st0, st1 := setupMarket(t, s)

	_, err := s.RecordOrder(ctx, newOrder(m.ID, st0.ID, ledger.OrderOpen))
	require.NoError(t, err)

	o, err := s.TransitionOrder(ctx, "tx-1", ledger.OrderPartiallyFilled, st1.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderPartiallyFilled, o.State)
	assert.Equal(t, st0.ID, o.CreatedStamp)
	assert.Equal(t, st1.ID, o.ModifiedStamp)

	_, err = s.TransitionOrder(ctx, "tx-1", ledger.OrderOpen, st1.ID)
	assert.ErrorIs(t, err, ledger.ErrIllegalTransition)

	o, err = s.Order(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderPartiallyFilled, o.State)
}

func TestOrderFilledTwiceIsNoop(t *testing.T) {
	s := New()
	ctx := context.Background()
	m, st0, st1 := setupMarket(t, s)

	_, err := s.RecordOrder(ctx, newOrder(m.ID, st0.ID, ledger.OrderOpen))
	require.NoError(t, err)

	first, err := s.TransitionOrder(ctx, "tx-1", ledger.OrderFilled, st1.ID)
	require.NoError(t, err)
	second, err := s.TransitionOrder(ctx, "tx-1", ledger.OrderFilled, st1.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	open, err := s.OpenOrders(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestOrderRejectsOlderObservation(t *testing.T) {
	s := New()
	ctx := context.Background()
	m, st0, st1 := setupMarket(t, s)

	_, err := s.RecordOrder(ctx, newOrder(m.ID, st1.ID, ledger.OrderOpen))
	require.NoError(t, err)

	_, err = s.TransitionOrder(ctx, "tx-1", ledger.OrderCancelled, st0.ID)
	assert.ErrorIs(t, err, ledger.ErrIllegalTransition)
}

func TestRecordOrderReconcilesKnownOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	m, st0, st1 := setupMarket(t, s)

	created, err := s.RecordOrder(ctx, newOrder(m.ID, st0.ID, ledger.OrderOpen))
	require.NoError(t, err)

	updated, err := s.RecordOrder(ctx, newOrder(m.ID, st1.ID, ledger.OrderCancelled))
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, ledger.OrderCancelled, updated.State)
	assert.Equal(t, st0.ID, updated.CreatedStamp)

	_, err = s.TransitionOrder(ctx, "missing", ledger.OrderFilled, st1.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestPruneOrderBook(t *testing.T) {
	s := New()
	ctx := context.Background()
	m, _, _ := setupMarket(t, s)

	now := t0.Add(48 * time.Hour)
	old, err := s.Stamp(ctx, now.Add(-25*time.Hour))
	require.NoError(t, err)
	fresh, err := s.Stamp(ctx, now.Add(-23*time.Hour))
	require.NoError(t, err)

	for _, st := range []ledger.Stamp{old, fresh} {
		_, err := s.AddOrderBookEntries(ctx, []ledger.OrderBookEntry{
			{Market: m.ID, Stamp: st.ID, Side: ledger.SideBid, Price: dec("100"), Volume: dec("1")},
			{Market: m.ID, Stamp: st.ID, Side: ledger.SideAsk, Price: dec("101"), Volume: dec("2")},
		})
		require.NoError(t, err)
	}

	cutoff := now.Add(-24 * time.Hour)
	n, err := s.PruneOrderBook(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, s.OrderBookAt(m.ID, old.ID))
	assert.Len(t, s.OrderBookAt(m.ID, fresh.ID), 2)

	n, err = s.PruneOrderBook(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOrderBookSnapshotIsAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	m, st0, _ := setupMarket(t, s)

	_, err := s.AddOrderBookEntries(ctx, []ledger.OrderBookEntry{
		{Market: m.ID, Stamp: st0.ID, Side: ledger.SideBid, Price: dec("1"), Volume: dec("1")},
		{Market: m.ID, Stamp: 404, Side: ledger.SideAsk, Price: dec("1"), Volume: dec("1")},
	})
	assert.ErrorIs(t, err, ledger.ErrReferenceNotFound)
	assert.Empty(t, s.OrderBookAt(m.ID, st0.ID))
}

func TestAssetLedgerDuplicates(t *testing.T) {
	s := New()
	ctx := context.Background()

	svc, err := s.EnsureService(ctx, "nicehash")
	require.NoError(t, err)
	btc, err := s.EnsureAsset(ctx, nil, "btc")
	require.NoError(t, err)
	jpy, err := s.EnsureAsset(ctx, nil, "JPY")
	require.NoError(t, err)

	again, err := s.EnsureService(ctx, "nicehash")
	require.NoError(t, err)
	assert.Equal(t, svc, again)

	_, err = s.AddAssetHistory(ctx, t0, svc.ID, btc.ID, dec("0.25"))
	require.NoError(t, err)
	_, err = s.AddAssetHistory(ctx, t0.Add(3*time.Hour), svc.ID, btc.ID, dec("0.30"))
	assert.ErrorIs(t, err, ledger.ErrDuplicate)

	_, err = s.AddExchangeRate(ctx, t0, btc.ID, jpy.ID, dec("9000000"))
	require.NoError(t, err)
	_, err = s.AddExchangeRate(ctx, t0, btc.ID, jpy.ID, dec("9100000"))
	assert.ErrorIs(t, err, ledger.ErrDuplicate)

	history, err := s.AssetHistoryOn(ctx, t0.Add(20*time.Hour))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Amount.Equal(dec("0.25")))
}

func TestUnavailable(t *testing.T) {
	s := New()
	s.SetUnavailable(true)

	_, err := s.Stamp(context.Background(), t0)
	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)

	_, err = s.Next(context.Background(), nil, ledger.CounterStamp)
	assert.ErrorIs(t, err, ledger.ErrAllocationFailure)
	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)

	s.SetUnavailable(false)
	_, err = s.Stamp(context.Background(), t0)
	assert.NoError(t, err)
}
