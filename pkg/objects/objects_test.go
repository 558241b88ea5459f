package objects

import (
	"context"
	"testing"

	"github.com/iuliatamas/cryptlog/pkg/converters"
	"github.com/iuliatamas/cryptlog/pkg/cryptlogcrypto"
	"github.com/iuliatamas/cryptlog/pkg/indexedqueue"
	"github.com/iuliatamas/cryptlog/pkg/logentry"
	"github.com/iuliatamas/cryptlog/pkg/runtime"
)

func newTestRuntime(t *testing.T, encrypted bool) *runtime.Runtime {
	t.Helper()
	q := indexedqueue.NewInMemoryStore(0)
	t.Cleanup(func() { _ = q.Close() })

	var secure *cryptlogcrypto.MetaEncryptor
	if encrypted {
		var err error
		secure, err = cryptlogcrypto.NewMetaEncryptor(cryptlogcrypto.Config{
			Passphrase:   []byte("objects-test-passphrase"),
			AddPrimeBits: 128,
		})
		if err != nil {
			t.Fatalf("NewMetaEncryptor: %v", err)
		}
	}
	return runtime.New(q, secure)
}

func TestRegister_WriteReadRoundTrip(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		rt := newTestRuntime(t, encrypted)
		reg := NewRegister[string](rt, 1, converters.StringConverter{}, "")

		ctx := context.Background()
		if err := reg.Write(ctx, "hello world"); err != nil {
			t.Fatalf("encrypted=%v write: %v", encrypted, err)
		}
		got, err := reg.Read(ctx)
		if err != nil {
			t.Fatalf("encrypted=%v read: %v", encrypted, err)
		}
		if got != "hello world" {
			t.Fatalf("encrypted=%v expected %q, got %q", encrypted, "hello world", got)
		}
	}
}

func TestAddableRegister_IncAccumulates(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		rt := newTestRuntime(t, encrypted)
		reg := NewAddableRegister(rt, 1, 0)
		ctx := context.Background()

		for _, delta := range []int64{5, 10, -2, 100} {
			if err := reg.Inc(ctx, delta); err != nil {
				t.Fatalf("encrypted=%v inc(%d): %v", encrypted, delta, err)
			}
		}
		got, err := reg.Read(ctx)
		if err != nil {
			t.Fatalf("encrypted=%v read: %v", encrypted, err)
		}
		if got != 113 {
			t.Fatalf("encrypted=%v expected 113, got %d", encrypted, got)
		}
	}
}

func TestHMap_InsertGet_TwoClientsConverge(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		q := indexedqueue.NewInMemoryStore(0)
		t.Cleanup(func() { _ = q.Close() })

		var secure *cryptlogcrypto.MetaEncryptor
		if encrypted {
			var err error
			secure, err = cryptlogcrypto.NewMetaEncryptor(cryptlogcrypto.Config{Passphrase: []byte("hmap-test"), AddPrimeBits: 128})
			if err != nil {
				t.Fatalf("NewMetaEncryptor: %v", err)
			}
		}

		rtA := runtime.New(q, secure)
		rtB := runtime.New(q, secure)
		mapA := NewHMap[string, string](rtA, 1, converters.StringConverter{}, converters.StringConverter{})
		mapB := NewHMap[string, string](rtB, 1, converters.StringConverter{}, converters.StringConverter{})

		ctx := context.Background()
		if err := mapA.Insert(ctx, "client-a-key", "from-a"); err != nil {
			t.Fatalf("encrypted=%v insert: %v", encrypted, err)
		}
		if err := mapB.Insert(ctx, "client-b-key", "from-b"); err != nil {
			t.Fatalf("encrypted=%v insert: %v", encrypted, err)
		}

		val, ok, err := mapA.Get(ctx, "client-b-key")
		if err != nil {
			t.Fatalf("encrypted=%v get: %v", encrypted, err)
		}
		if !ok || val != "from-b" {
			t.Fatalf("encrypted=%v expected client A to see B's disjoint key, got ok=%v val=%q", encrypted, ok, val)
		}

		val, ok, err = mapB.Get(ctx, "client-a-key")
		if err != nil {
			t.Fatalf("encrypted=%v get: %v", encrypted, err)
		}
		if !ok || val != "from-a" {
			t.Fatalf("encrypted=%v expected client B to see A's disjoint key, got ok=%v val=%q", encrypted, ok, val)
		}

		n, err := mapA.Len(ctx)
		if err != nil {
			t.Fatalf("len: %v", err)
		}
		if n != 2 {
			t.Fatalf("encrypted=%v expected 2 entries, got %d", encrypted, n)
		}
	}
}

func TestBTMap_OrderingMatchesLexicographicKeyOrder(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		rt := newTestRuntime(t, encrypted)
		m := NewBTMap[string, int64](rt, 1, converters.StringConverter{}, converters.StringOrdKeyConverter{}, converters.IntConverter{})
		ctx := context.Background()

		keys := []string{"h0", "h1", "h2", "alphabet", "h0rry"}
		wantSortedIndex := []int{3, 0, 4, 1, 2} // alphabet, h0, h0rry, h1, h2

		for i, k := range keys {
			if err := m.Insert(ctx, k, int64(i)); err != nil {
				t.Fatalf("encrypted=%v insert(%q): %v", encrypted, k, err)
			}
		}

		ordered, err := m.KeysInOrder(ctx)
		if err != nil {
			t.Fatalf("encrypted=%v keysInOrder: %v", encrypted, err)
		}
		if len(ordered) != len(keys) {
			t.Fatalf("encrypted=%v expected %d keys, got %d", encrypted, len(keys), len(ordered))
		}
		for pos, origIdx := range wantSortedIndex {
			if ordered[pos] != keys[origIdx] {
				t.Fatalf("encrypted=%v position %d: expected %q, got %q", encrypted, pos, keys[origIdx], ordered[pos])
			}
		}
	}
}

func TestBTMap_PopFirstBypassesLog(t *testing.T) {
	rt := newTestRuntime(t, false)
	m := NewBTMap[string, int64](rt, 1, converters.StringConverter{}, converters.StringOrdKeyConverter{}, converters.IntConverter{})
	ctx := context.Background()

	for _, k := range []string{"b", "a", "c"} {
		if err := m.Insert(ctx, k, 0); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	key, _, ok := m.PopFirst()
	if !ok || key != "a" {
		t.Fatalf("expected PopFirst to return 'a', got key=%q ok=%v", key, ok)
	}

	n, err := m.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries after PopFirst, got %d", n)
	}
}

func TestEntry_AddWriteKeepsOperatorType(t *testing.T) {
	// Sanity check that an operator stored by AddWrite keeps its
	// concrete LogOp type, since Apply relies on type switches.
	e := logentry.NewEntry()
	e.AddWrite(1, logentry.LogOpWrite{State: logentry.EncodedState{Data: "x"}})
	if len(e.Operations) != 1 {
		t.Fatalf("expected 1 operation")
	}
	if _, ok := e.Operations[0].Operator.(logentry.LogOpWrite); !ok {
		t.Fatalf("expected LogOpWrite")
	}
}
