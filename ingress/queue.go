package ingress

import (
	"sync"

	"github.com/murk-sim/murk"
)

// entry pairs a submitted command with the tick in effect when it was
// accepted — its "basis tick" for skew evaluation (§4.3 "Realtime backoff").
type entry struct {
	cmd        murk.Command
	basisTick  murk.TickId
	batchIndex int
}

// Queue is the bounded, single-consumer/multi-producer command queue
// standing between command producers and the TickEngine (§4.3). All
// mutation happens under mu; the tick thread is the sole consumer but
// producers may submit concurrently from any goroutine.
type Queue struct {
	cfg Config

	mu             sync.Mutex
	items          []entry
	nextArrivalSeq uint64
	closed         bool

	currentMaxSkew      int
	rejectionFreeStreak int
}

// New constructs a Queue. cfg's zero value is not usable directly; start
// from DefaultConfig and override fields.
func New(cfg Config) (*Queue, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Queue{cfg: cfg, currentMaxSkew: cfg.InitialMaxSkew}, nil
}

// Submit accepts a batch of commands at the given basis tick, assigning
// each an ArrivalSeq and normalising its anonymous-ordering fields. Partial
// acceptance is permitted: once the queue reaches capacity, every further
// command in the batch receives a QueueFull receipt at its original batch
// index while earlier ones in the same call are unaffected (§4.3 "Queue").
func (q *Queue) Submit(cmds []murk.Command, basisTick murk.TickId) []murk.Receipt {
	q.mu.Lock()
	defer q.mu.Unlock()

	receipts := make([]murk.Receipt, len(cmds))
	if q.closed {
		for i := range cmds {
			receipts[i] = murk.Receipt{Accepted: false, Code: murk.CodeShuttingDown, BatchIndex: i}
		}
		return receipts
	}

	for i := range cmds {
		if len(q.items) >= q.cfg.Capacity {
			receipts[i] = murk.Receipt{Accepted: false, Code: murk.CodeQueueFull, BatchIndex: i}
			continue
		}
		c := cmds[i]
		c.Normalize()
		c.ArrivalSeq = q.nextArrivalSeq
		q.nextArrivalSeq++
		q.items = append(q.items, entry{cmd: c, basisTick: basisTick, batchIndex: i})
		receipts[i] = murk.Receipt{Accepted: true, BatchIndex: i}
	}
	return receipts
}

// Close stops further acceptance; every subsequent Submit call receives
// ShuttingDown receipts (§4.6 Draining).
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Clear empties the queue and returns how many commands were discarded,
// used by the realtime driver's Draining phase to report commands_dropped
// in its ShutdownReport (§4.6).
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Depth reports the current queue occupancy, for preflight visibility.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// CurrentMaxSkew reports the adaptive backoff state (§4.3, §4.5 preflight
// "current_max_skew").
func (q *Queue) CurrentMaxSkew() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentMaxSkew
}

// DrainResult is the outcome of one Drain call: the surviving commands in
// deterministic apply order, plus a Stale receipt for every
// command rejected at drain time (expired or skewed beyond current_max_skew).
type DrainResult struct {
	Applied  []murk.Command
	Rejected []murk.Receipt
}

// Drain pops up to budget commands FIFO, evaluates each against
// expires_after_tick and current_max_skew relative to applyTick, sorts
// survivors by the deterministic ordering key, and updates the adaptive
// backoff state from this drain's rejection rate (§4.3 "Sort",
// "Realtime backoff"). Commands left over the budget remain queued for the
// next tick.
func (q *Queue) Drain(applyTick murk.TickId, budget int) DrainResult {
	q.mu.Lock()
	n := budget
	if n > len(q.items) {
		n = len(q.items)
	}
	popped := q.items[:n]
	q.items = q.items[n:]
	q.mu.Unlock()

	var applied []murk.Command
	var rejected []murk.Receipt
	for _, e := range popped {
		if e.cmd.ExpiresAfterTick != 0 && applyTick > e.cmd.ExpiresAfterTick {
			rejected = append(rejected, murk.Receipt{Accepted: false, Code: murk.CodeStale, BatchIndex: e.batchIndex})
			continue
		}
		skew := applyTick - e.basisTick
		if q.skewExceeded(skew) {
			rejected = append(rejected, murk.Receipt{Accepted: false, Code: murk.CodeStale, BatchIndex: e.batchIndex})
			continue
		}
		applied = append(applied, e.cmd)
	}

	sortCommands(applied)
	q.updateBackoff(len(applied), len(rejected))

	return DrainResult{Applied: applied, Rejected: rejected}
}

func (q *Queue) skewExceeded(skew murk.TickId) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(skew) > int64(q.currentMaxSkew)
}

// updateBackoff grows current_max_skew when this drain's rejection rate
// exceeds the configured threshold, else advances the rejection-free streak
// and decays current_max_skew once the streak reaches DecayRate.
func (q *Queue) updateBackoff(acceptedN, rejectedN int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := acceptedN + rejectedN
	if total == 0 {
		return
	}
	rate := float64(rejectedN) / float64(total)
	if rate > q.cfg.RejectionRateThreshold {
		grown := int(float64(q.currentMaxSkew) * q.cfg.BackoffFactor)
		if grown <= q.currentMaxSkew {
			grown = q.currentMaxSkew + 1
		}
		if grown > q.cfg.MaxSkewCap {
			grown = q.cfg.MaxSkewCap
		}
		q.currentMaxSkew = grown
		q.rejectionFreeStreak = 0
		return
	}
	if rejectedN == 0 {
		q.rejectionFreeStreak++
		if q.rejectionFreeStreak >= q.cfg.DecayRate && q.currentMaxSkew > 0 {
			q.currentMaxSkew--
			q.rejectionFreeStreak = 0
		}
	} else {
		q.rejectionFreeStreak = 0
	}
}

// sortCommands performs the stable multi-key ordering sort (§4.3 "Sort").
func sortCommands(cmds []murk.Command) {
	stableSortByKey(cmds)
}
