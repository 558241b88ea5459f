// Package materializer implements the VM: a background process that
// replays a shared log into materialized objects and periodically
// stamps their full state back into the log as snapshots, so new
// clients can join by reading one snapshot per object instead of
// replaying the whole log from index 0.
package materializer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iuliatamas/cryptlog/pkg/core"
	"github.com/iuliatamas/cryptlog/pkg/core/concurrency"
	"github.com/iuliatamas/cryptlog/pkg/core/failfast"
	"github.com/iuliatamas/cryptlog/pkg/cryptlogcrypto"
	"github.com/iuliatamas/cryptlog/pkg/indexedqueue"
	"github.com/iuliatamas/cryptlog/pkg/logentry"
	"github.com/iuliatamas/cryptlog/pkg/runtime"
)

// Materializable is what objects.Register, objects.AddableRegister,
// objects.HMap, and objects.BTMap all implement: they can accept
// replayed operations (runtime.SnapshotCallback) and encode their
// current state on demand (Snapshot).
type Materializable interface {
	runtime.SnapshotCallback
	Snapshot() (logentry.State, error)
}

// Config controls how often the VM takes a snapshot round.
type Config struct {
	// SnapshotThreshold is the number of newly-applied log entries
	// between snapshot rounds.
	SnapshotThreshold int64
	// PollInterval controls how often the VM checks for new entries to
	// replay when it is not actively streaming them.
	PollInterval time.Duration
	// SnapshotWorkers bounds how many tracked objects get snapshotted
	// concurrently during a round; each Snapshot() call and its
	// AppendSnapshot round-trip runs independently of the others.
	SnapshotWorkers int
}

// DefaultConfig returns the 100-entries-per-round cadence CryptLog was
// originally validated against.
func DefaultConfig() Config {
	return Config{SnapshotThreshold: 100, PollInterval: 50 * time.Millisecond, SnapshotWorkers: 4}
}

// VM wraps an underlying indexedqueue.Store and itself implements
// indexedqueue.Store, so a Runtime can be pointed at a VM exactly as it
// would at any other backend (runtime.New(vm, secure) type-checks
// directly). Reads and writes pass straight through to the underlying
// store; the VM's value-add is Stream's snapshot-first behavior and the
// background snapshot round.
type VM struct {
	underlying indexedqueue.Store
	snapStore  SnapshotStore
	cfg        Config

	rt          *runtime.Runtime
	shadows     map[logentry.ObjID]Materializable
	executor    concurrency.Executor
	snapWorkers *core.WorkerPool

	lastRoundFloor logentry.LogIndex
	haveRound      bool
}

// New builds a VM over an underlying store. secure must match whatever
// MetaEncryptor (or nil) the log's writers use, since the VM has to
// decode entries to materialize them.
func New(underlying indexedqueue.Store, secure *cryptlogcrypto.MetaEncryptor, snapStore SnapshotStore, cfg Config) *VM {
	failfast.NotNil(underlying, "underlying")
	failfast.NotNil(snapStore, "snapStore")
	if cfg.SnapshotThreshold <= 0 {
		cfg.SnapshotThreshold = DefaultConfig().SnapshotThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.SnapshotWorkers <= 0 {
		cfg.SnapshotWorkers = DefaultConfig().SnapshotWorkers
	}
	return &VM{
		underlying:     underlying,
		snapStore:      snapStore,
		cfg:            cfg,
		rt:             runtime.New(underlying, secure),
		shadows:        make(map[logentry.ObjID]Materializable),
		snapWorkers:    core.NewWorkerPool(cfg.SnapshotWorkers),
		lastRoundFloor: -1,
	}
}

// Runtime returns the VM's internal Runtime, so materializable objects
// can be constructed against it (e.g. objects.NewRegister(vm.Runtime(), ...)).
func (vm *VM) Runtime() *runtime.Runtime {
	return vm.rt
}

// Track registers a materializable object so the VM includes it in
// snapshot rounds. The object must already be registered on vm.Runtime()
// under the same obj_id (constructing it against vm.Runtime() does this).
func (vm *VM) Track(objID logentry.ObjID, obj Materializable) {
	failfast.NotNil(obj, "obj")
	vm.shadows[objID] = obj
}

// Run drives the VM's replay-and-snapshot loop until ctx is canceled. It
// is typically started as its own long-running goroutine (see
// cmd/materializer), backed here by a single concurrency.Executor task
// so the loop runs on the same bounded-worker lifecycle the rest of the
// codebase uses for background work. A panic in the loop is not
// recovered.
func (vm *VM) Run(ctx context.Context) error {
	vm.executor = concurrency.NewExecutor(ctx, concurrency.ExecutorConfig{Workers: 1, QueueSize: 1})
	done := make(chan error, 1)
	task := concurrency.NewNamedTask("vm-materializer-loop", func(taskCtx context.Context) error {
		done <- vm.loop(taskCtx)
		return nil
	})
	if err := vm.executor.Submit(task); err != nil {
		return fmt.Errorf("materializer: submit loop task: %w", err)
	}
	return <-done
}

func (vm *VM) loop(ctx context.Context) error {
	ticker := time.NewTicker(vm.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := vm.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (vm *VM) tick(ctx context.Context) error {
	if err := vm.rt.Sync(ctx); err != nil {
		return err
	}
	after := vm.rt.GlobalIndex()
	if after < 0 {
		return nil
	}

	var sinceRound logentry.LogIndex
	if vm.haveRound {
		sinceRound = after - vm.lastRoundFloor
	} else {
		sinceRound = after + 1
	}

	if int64(sinceRound) >= vm.cfg.SnapshotThreshold {
		return vm.snapshotRound(ctx, after)
	}
	return nil
}

// snapshotRound asks every tracked object for its current state and
// stamps one Snapshot per object into the underlying store, all at the
// same floor index, so VM.Stream can later serve every tracked object's
// snapshot together without re-replaying entries one object already
// covers while another does not.
func (vm *VM) snapshotRound(ctx context.Context, floor logentry.LogIndex) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(vm.shadows))

	for objID, obj := range vm.shadows {
		objID, obj := objID, obj
		wg.Add(1)
		vm.snapWorkers.Submit(func() {
			defer wg.Done()
			if err := vm.snapshotOne(ctx, floor, objID, obj); err != nil {
				errs <- err
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		return err
	}

	vm.lastRoundFloor = floor
	vm.haveRound = true
	return nil
}

func (vm *VM) snapshotOne(ctx context.Context, floor logentry.LogIndex, objID logentry.ObjID, obj Materializable) error {
	state, err := obj.Snapshot()
	if err != nil {
		return fmt.Errorf("materializer: snapshot obj %d: %w", objID, err)
	}
	snap := logentry.Snapshot{ObjID: objID, Idx: floor, Payload: state}
	if _, err := vm.underlying.AppendSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("materializer: append snapshot obj %d: %w", objID, err)
	}
	if err := vm.snapStore.Put(ctx, snap); err != nil {
		return fmt.Errorf("materializer: record snapshot obj %d: %w", objID, err)
	}
	return nil
}

// Append implements indexedqueue.Store by delegating to the underlying store.
func (vm *VM) Append(ctx context.Context, entry logentry.Entry) (logentry.LogIndex, error) {
	return vm.underlying.Append(ctx, entry)
}

// AppendSnapshot implements indexedqueue.Store by delegating to the underlying store.
func (vm *VM) AppendSnapshot(ctx context.Context, snap logentry.Snapshot) (logentry.LogIndex, error) {
	return vm.underlying.AppendSnapshot(ctx, snap)
}

// Len implements indexedqueue.Store by delegating to the underlying store.
func (vm *VM) Len(ctx context.Context) (logentry.LogIndex, error) {
	return vm.underlying.Len(ctx)
}

// Close implements indexedqueue.Store by delegating to the underlying
// store, after shutting down the snapshot worker pool.
func (vm *VM) Close() error {
	vm.snapWorkers.Shutdown()
	return vm.underlying.Close()
}

// Stats implements indexedqueue.Store by delegating to the underlying store.
func (vm *VM) Stats() indexedqueue.Stats {
	return vm.underlying.Stats()
}

// Stream implements the hybrid snapshot-then-tail behavior: a fresh
// client (from == 0) that arrives after at least one snapshot round
// receives every tracked object's latest snapshot first, then raw
// entries starting right after the snapshot round's floor index. Any
// other call (from > 0, or no snapshot round has happened yet) streams
// straight from the underlying store, unchanged.
func (vm *VM) Stream(ctx context.Context, from logentry.LogIndex) (<-chan logentry.LogData, error) {
	if from != 0 || !vm.haveRound {
		return vm.underlying.Stream(ctx, from)
	}

	objects := vm.snapStore.Objects()
	snapshots := make([]logentry.Snapshot, 0, len(objects))
	for _, objID := range objects {
		snap, ok, err := vm.snapStore.Latest(ctx, objID, vm.lastRoundFloor)
		if err != nil {
			return nil, err
		}
		if ok {
			snapshots = append(snapshots, snap)
		}
	}

	tail, err := vm.underlying.Stream(ctx, vm.lastRoundFloor+1)
	if err != nil {
		return nil, err
	}

	out := make(chan logentry.LogData, 64)
	go func() {
		defer close(out)
		for _, snap := range snapshots {
			select {
			case out <- logentry.LogDataSnapshot{Snapshot: snap}:
			case <-ctx.Done():
				return
			}
		}
		for item := range tail {
			// Snapshot rows in the underlying store are not raw entries;
			// the round's snapshots were already sent above.
			if _, isSnapshot := item.(logentry.LogDataSnapshot); isSnapshot {
				continue
			}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ indexedqueue.Store = (*VM)(nil)
