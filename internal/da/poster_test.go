package da

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/fontana/internal/db"
	"github.com/Bidon15/fontana/internal/ledger"
	"github.com/Bidon15/fontana/internal/sequencer"
	"github.com/Bidon15/fontana/internal/state"
	"github.com/Bidon15/fontana/internal/types"
	"github.com/Bidon15/fontana/internal/wallet"
)

// fakeClient records submissions and can be programmed to fail.
type fakeClient struct {
	mu        sync.Mutex
	height    uint64
	submitted map[string][][]byte // namespace hex -> blobs
	failWith  error
	failCount int
}

func newFakeClient() *fakeClient {
	return &fakeClient{submitted: make(map[string][][]byte)}
}

func (f *fakeClient) Submit(ctx context.Context, ns types.Namespace, data []byte) (uint64, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCount != 0 && f.failWith != nil {
		if f.failCount > 0 {
			f.failCount--
		}
		return 0, nil, f.failWith
	}
	f.height++
	f.submitted[ns.Hex()] = append(f.submitted[ns.Hex()], data)
	return f.height, types.SHA256Sum(data), nil
}

func (f *fakeClient) Get(ctx context.Context, daHeight uint64, ns types.Namespace) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted[ns.Hex()], nil
}

func (f *fakeClient) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, blobs := range f.submitted {
		n += len(blobs)
	}
	return n
}

func newPosterFixture(t *testing.T) (*Poster, *fakeClient, *db.Storage, *sequencer.Sequencer) {
	t.Helper()

	dbm := db.NewDatabaseManager(t.TempDir())
	store := db.NewStorage(dbm)
	bus := state.NewEventBus()

	l, err := ledger.New(store, 4, bus)
	require.NoError(t, err)

	w, err := wallet.Generate()
	require.NoError(t, err)
	require.NoError(t, l.LoadGenesis(&types.GenesisState{
		ChainID:   "fontana-test",
		Timestamp: 1700000000,
		UTXOs:     []types.GenesisUTXO{{Recipient: w.Address(), Amount: 100}},
	}))

	seq := sequencer.NewSequencer(l, store, bus, time.Second, 10)
	base, err := types.ParseNamespace("66746e6100000001")
	require.NoError(t, err)

	client := newFakeClient()
	return NewPoster(store, client, base, bus), client, store, seq
}

func TestPosterPostsInHeightOrder(t *testing.T) {
	poster, client, store, seq := newPosterFixture(t)

	for i := 0; i < 3; i++ {
		_, err := seq.BuildBlock()
		require.NoError(t, err)
	}

	poster.processUncommitted(context.Background())

	assert.Equal(t, 3, client.submissions())
	for h := uint64(1); h <= 3; h++ {
		rec, err := store.GetBlockByHeight(h)
		require.NoError(t, err)
		assert.True(t, rec.DaCommitted, "height %d", h)
		assert.NotEmpty(t, rec.BlobRef, "height %d", h)
	}

	uncommitted, err := store.FetchUncommittedBlocks()
	require.NoError(t, err)
	assert.Empty(t, uncommitted)
}

func TestPosterStopsOnTransientFailure(t *testing.T) {
	poster, client, store, seq := newPosterFixture(t)
	for i := 0; i < 2; i++ {
		_, err := seq.BuildBlock()
		require.NoError(t, err)
	}

	client.failWith = &DAError{Permanent: false, Err: errors.New("node unreachable")}
	client.failCount = -1 // fail forever

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // make the backoff wait return immediately
	poster.processUncommitted(ctx)

	// nothing advanced, blocks stay uncommitted for the next round
	uncommitted, err := store.FetchUncommittedBlocks()
	require.NoError(t, err)
	assert.Len(t, uncommitted, 2)
	assert.Equal(t, 0, client.submissions())

	// once the node recovers, everything drains in order
	client.failWith = nil
	poster.processUncommitted(context.Background())
	uncommitted, err = store.FetchUncommittedBlocks()
	require.NoError(t, err)
	assert.Empty(t, uncommitted)
}

func TestPosterHoldsOnPermanentFailure(t *testing.T) {
	poster, client, store, seq := newPosterFixture(t)
	_, err := seq.BuildBlock()
	require.NoError(t, err)

	client.failWith = &DAError{Permanent: true, Err: errors.New("invalid namespace")}
	client.failCount = -1

	poster.processUncommitted(context.Background())

	// local state untouched: the block stays valid and uncommitted
	rec, err := store.GetBlockByHeight(1)
	require.NoError(t, err)
	assert.True(t, rec.LocalCommitted)
	assert.False(t, rec.DaCommitted)
}

func TestPostedBlobRoundTrips(t *testing.T) {
	poster, client, store, seq := newPosterFixture(t)
	_, err := seq.BuildBlock()
	require.NoError(t, err)

	poster.processUncommitted(context.Background())

	rec, err := store.GetBlockByHeight(1)
	require.NoError(t, err)
	daHeight, _, err := ParseBlobRef(rec.BlobRef)
	require.NoError(t, err)

	ns := types.DeriveBlockNamespace(poster.base, 1)
	blobs, err := client.Get(context.Background(), daHeight, ns)
	require.NoError(t, err)
	require.Len(t, blobs, 1)

	block, err := types.DecodeBlock(blobs[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(1), block.Header.Height)
	assert.Equal(t, rec.StateRoot, block.Header.StateRoot)

	// byte-identical re-encode (DA round trip property)
	again, err := types.EncodeBlock(block)
	require.NoError(t, err)
	assert.Equal(t, blobs[0], again)
}

func TestBlobRefFormat(t *testing.T) {
	ref := FormatBlobRef(42, []byte{0x01, 0x02})
	assert.Equal(t, fmt.Sprintf("da:42:%s", "AQI="), ref)

	height, commitment, err := ParseBlobRef(ref)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), height)
	assert.Equal(t, []byte{0x01, 0x02}, commitment)

	_, _, err = ParseBlobRef("nonsense")
	assert.Error(t, err)
}

func TestBackoffDelayCapped(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(1))
	assert.Equal(t, 2*time.Second, backoffDelay(2))
	assert.Equal(t, maxBackoff, backoffDelay(30))
	assert.Equal(t, maxBackoff, backoffDelay(500))
}
