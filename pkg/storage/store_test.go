package storage

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	p, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return map[string]Store{
		"pebble": p,
		"memory": NewMemoryStore(),
	}
}

func record(creator common.Address, nonce int64, filled int64) *order.Record {
	at := time.Unix(1700000000, 0).UTC()
	return &order.Record{
		Order: &order.Order{
			Creator:   creator,
			SymbolIn:  "SC",
			SymbolOut: "DC",
			AmtIn:     big.NewInt(100),
			AmtOut:    big.NewInt(50),
			Nonce:     big.NewInt(nonce),
			Signature: []byte{1, 2, 3},
		},
		Status:    order.StatusFor(big.NewInt(filled), big.NewInt(100)),
		Filled:    big.NewInt(filled),
		Seq:       uint64(nonce),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestBatchCommitAndLoad(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			b := s.NewBatch()
			a1 := record(alice, 1, 40)
			a2 := record(alice, 2, 0)
			b1 := record(bob, 1, 100)
			for _, r := range []*order.Record{a1, a2, b1} {
				require.NoError(t, b.PutOrder(r))
			}
			require.NoError(t, b.PutFill(fill.Record{Key: a1.Order.Key(), Cumulative: big.NewInt(40)}))
			require.NoError(t, b.PutFill(fill.Record{Key: b1.Order.Key(), Cumulative: big.NewInt(100)}))
			require.NoError(t, b.SetSeq(7))
			require.NoError(t, b.Commit())
			require.NoError(t, b.Close())

			fills, err := s.LoadFills()
			require.NoError(t, err)
			require.Len(t, fills, 2)
			got := map[order.Key]string{}
			for _, f := range fills {
				got[f.Key] = f.Cumulative.String()
			}
			assert.Equal(t, "40", got[a1.Order.Key()])
			assert.Equal(t, "100", got[b1.Order.Key()])

			all, err := s.LoadOrders()
			require.NoError(t, err)
			assert.Len(t, all, 3)

			mine, err := s.OrdersByCreator(alice)
			require.NoError(t, err)
			require.Len(t, mine, 2)
			for _, r := range mine {
				assert.Equal(t, alice, r.Order.Creator)
			}

			rec, err := s.LoadOrder(b1.Order.Key())
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, order.StatusFilled, rec.Status)
			assert.Equal(t, []byte{1, 2, 3}, rec.Order.Signature)
			assert.True(t, rec.CreatedAt.Equal(b1.CreatedAt))

			seq, err := s.Seq()
			require.NoError(t, err)
			assert.Equal(t, uint64(7), seq)
		})
	}
}

func TestUncommittedBatchIsInvisible(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			b := s.NewBatch()
			require.NoError(t, b.PutOrder(record(alice, 9, 0)))
			require.NoError(t, b.SetSeq(3))
			require.NoError(t, b.Close())

			rec, err := s.LoadOrder(order.Key{Creator: alice, Nonce: "9"})
			require.NoError(t, err)
			assert.Nil(t, rec)

			seq, err := s.Seq()
			require.NoError(t, err)
			assert.Zero(t, seq)
		})
	}
}

func TestConditionals(t *testing.T) {
	type reg struct {
		Nonce string `json:"nonce"`
		State string `json:"state"`
	}
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			k1 := order.Key{Creator: alice, Nonce: "1"}
			k2 := order.Key{Creator: alice, Nonce: "2"}

			b := s.NewBatch()
			require.NoError(t, b.PutConditional(k1, reg{Nonce: "1", State: "dormant"}))
			require.NoError(t, b.PutConditional(k2, reg{Nonce: "2", State: "dormant"}))
			require.NoError(t, b.Commit())
			require.NoError(t, b.Close())

			b = s.NewBatch()
			require.NoError(t, b.DeleteConditional(k1))
			require.NoError(t, b.Commit())
			require.NoError(t, b.Close())

			var loaded []reg
			require.NoError(t, s.LoadConditionals(func(data []byte) error {
				var r reg
				if err := json.Unmarshal(data, &r); err != nil {
					return err
				}
				loaded = append(loaded, r)
				return nil
			}))
			require.Len(t, loaded, 1)
			assert.Equal(t, "2", loaded[0].Nonce)
		})
	}
}

func TestPebbleReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenPebble(dir)
	require.NoError(t, err)

	b := s.NewBatch()
	require.NoError(t, b.PutOrder(record(bob, 5, 10)))
	require.NoError(t, b.SetSeq(42))
	require.NoError(t, b.Commit())
	require.NoError(t, b.Close())
	require.NoError(t, s.Close())

	s, err = OpenPebble(dir)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.LoadOrder(order.Key{Creator: bob, Nonce: "5"})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "10", rec.Filled.String())

	seq, err := s.Seq()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)
}

func TestKeyUpperBound(t *testing.T) {
	assert.Equal(t, []byte("ord;"), keyUpperBound([]byte("ord:")))
	assert.Equal(t, []byte{0x02}, keyUpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, keyUpperBound([]byte{0xff, 0xff}))
}
