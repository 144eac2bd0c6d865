package autopilot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"go.sia.tech/core/types"
	"go.sia.tech/ephemerald/api"
	"go.sia.tech/ephemerald/build"
	"go.sia.tech/ephemerald/ephemeralaccounts"
	"go.sia.tech/ephemerald/internal/tracing"
	"go.sia.tech/ephemerald/internal/utils"
	"go.sia.tech/jape"
	"go.uber.org/zap"
)

const (
	accountsBatchSize = 100

	// iterationTimeout bounds a single iteration of the main loop.
	iterationTimeout = 10 * time.Minute

	// sweepDurationsWindow is the number of recent sweep durations kept
	// around for reporting.
	sweepDurationsWindow = 100
)

// A Bus is the part of the bus API the autopilot needs to expire and sweep
// the accounts it created.
type Bus interface {
	Height(ctx context.Context) (uint64, error)
	Accounts(ctx context.Context, opts api.AccountsOpts) ([]api.AccountInfo, error)
	ExpireAccount(ctx context.Context, id api.AccountID) error
	SweepAccount(ctx context.Context, id api.AccountID, destination types.Address, sig types.Signature) error
}

// An Autopilot periodically expires the accounts created by its key once they
// are past their expiry height and sweeps the ones that received payments to
// a fixed destination.
type Autopilot struct {
	bus         Bus
	key         types.PrivateKey
	destination types.Address
	heartbeat   time.Duration
	logger      *zap.SugaredLogger

	startTime time.Time

	triggerChan chan struct{}
	closedChan  chan struct{}
	wg          sync.WaitGroup

	mu             sync.Mutex
	running        bool
	lastRun        time.Time
	swept          uint64
	expired        uint64
	retries        uint64
	abandoned      map[api.AccountID]error
	sweepDurations []float64
}

// New initializes an Autopilot. Sweeps are signed with key, which has to be
// the creator of the accounts it is supposed to take care of.
func New(bus Bus, key types.PrivateKey, destination types.Address, heartbeat time.Duration, l *zap.Logger) (*Autopilot, error) {
	if heartbeat <= 0 {
		return nil, fmt.Errorf("heartbeat must be positive, got %v", heartbeat)
	} else if len(key) != 64 {
		return nil, errors.New("invalid signing key")
	} else if destination == types.VoidAddress {
		return nil, errors.New("sweep destination must not be the void address")
	}

	return &Autopilot{
		bus:         bus,
		key:         key,
		destination: destination,
		heartbeat:   heartbeat,
		logger:      l.Named("autopilot").Sugar(),

		triggerChan: make(chan struct{}, 1),
		closedChan:  make(chan struct{}),

		abandoned: make(map[api.AccountID]error),
	}, nil
}

// Handler returns an HTTP handler that serves the autopilot API.
func (ap *Autopilot) Handler() http.Handler {
	return jape.Mux(tracing.TracedRoutes("autopilot", map[string]jape.Handler{
		"GET    /state":   ap.stateHandlerGET,
		"POST   /trigger": ap.triggerHandlerPOST,
	}))
}

// Run runs the main loop of the autopilot until it is shut down.
func (ap *Autopilot) Run() error {
	ap.mu.Lock()
	if ap.running {
		ap.mu.Unlock()
		return errors.New("already running")
	}
	select {
	case <-ap.closedChan:
		ap.mu.Unlock()
		return nil
	default:
	}
	ap.running = true
	ap.startTime = time.Now()
	ap.wg.Add(1)
	ap.mu.Unlock()
	defer ap.wg.Done()

	t := time.NewTicker(ap.heartbeat)
	defer t.Stop()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), iterationTimeout)
		ap.performMaintenance(ctx)
		cancel()

		select {
		case <-ap.closedChan:
			return nil
		case <-ap.triggerChan:
		case <-t.C:
		}
	}
}

// Shutdown stops the main loop and waits for the current iteration to
// finish.
func (ap *Autopilot) Shutdown(ctx context.Context) error {
	ap.mu.Lock()
	select {
	case <-ap.closedChan:
	default:
		close(ap.closedChan)
	}
	ap.running = false
	ap.mu.Unlock()

	doneChan := make(chan struct{})
	go func() {
		ap.wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Trigger starts a new iteration of the main loop unless one is already
// pending. It returns false if the trigger was dropped.
func (ap *Autopilot) Trigger() bool {
	select {
	case ap.triggerChan <- struct{}{}:
		return true
	default:
		return false
	}
}

// State returns the current state of the autopilot.
func (ap *Autopilot) State() api.AutopilotStateResponse {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	abandoned := make([]api.AccountID, 0, len(ap.abandoned))
	for id := range ap.abandoned {
		abandoned = append(abandoned, id)
	}
	sort.Slice(abandoned, func(i, j int) bool { return abandoned[i].String() < abandoned[j].String() })

	// errors are ignored since they only occur for empty inputs
	median, _ := stats.Median(ap.sweepDurations)
	p90, _ := stats.Percentile(ap.sweepDurations, 90)

	return api.AutopilotStateResponse{
		Creator:     ap.key.PublicKey(),
		Destination: ap.destination,
		Heartbeat:   api.DurationMS(ap.heartbeat),
		Running:     ap.running,
		StartTime:   api.TimeRFC3339(ap.startTime),
		LastRun:     api.TimeRFC3339(ap.lastRun),

		Swept:     ap.swept,
		Expired:   ap.expired,
		Retries:   ap.retries,
		Abandoned: abandoned,

		SweepDurationMedian: api.DurationMS(time.Duration(median) * time.Millisecond),
		SweepDurationP90:    api.DurationMS(time.Duration(p90) * time.Millisecond),

		BuildState: api.BuildState{
			Version:   build.Version(),
			Commit:    build.Commit(),
			OS:        runtime.GOOS,
			BuildTime: api.TimeRFC3339(build.BuildTime()),
		},
	}
}

func (ap *Autopilot) performMaintenance(ctx context.Context) {
	defer func() {
		ap.mu.Lock()
		ap.lastRun = time.Now()
		ap.mu.Unlock()
	}()

	height, err := ap.bus.Height(ctx)
	if err != nil {
		ap.logger.Errorw("failed to fetch height", zap.Error(err))
		return
	}

	accounts, err := ap.pendingAccounts(ctx)
	if err != nil {
		ap.logger.Errorw("failed to fetch accounts", zap.Error(err))
		return
	}
	ap.logger.Debugw("maintenance started", "height", height, "accounts", len(accounts))

	for _, acc := range accounts {
		if ap.isAbandoned(acc.ID) {
			continue
		}

		select {
		case <-ctx.Done():
			ap.logger.Warnw("maintenance interrupted", zap.Error(ctx.Err()))
			return
		case <-ap.closedChan:
			return
		default:
		}

		if height > acc.ExpiryHeight {
			ap.handleResult(acc.ID, "expire", ap.expireAccount(ctx, acc))
		} else if acc.Status == api.StatusPaymentReceived {
			ap.handleResult(acc.ID, "sweep", ap.sweepAccount(ctx, acc))
		}
	}
}

// pendingAccounts returns all non-terminal accounts created by the
// autopilot's key. All pages are fetched before any account is acted upon
// since acting on an account changes its status.
func (ap *Autopilot) pendingAccounts(ctx context.Context) (accounts []api.AccountInfo, err error) {
	creator := ap.key.PublicKey()
	for _, status := range []api.AccountStatus{api.StatusActive, api.StatusPaymentReceived} {
		for offset := 0; ; offset += accountsBatchSize {
			batch, err := ap.bus.Accounts(ctx, api.AccountsOpts{
				Creator: &creator,
				Status:  status,
				Offset:  offset,
				Limit:   accountsBatchSize,
			})
			if err != nil {
				return nil, err
			}
			accounts = append(accounts, batch...)
			if len(batch) < accountsBatchSize {
				break
			}
		}
	}
	return
}

func (ap *Autopilot) expireAccount(ctx context.Context, acc api.AccountInfo) (err error) {
	ctx, span := tracing.AccountSpan(ctx, "autopilot: expire", acc.ID)
	defer func() { tracing.EndSpan(span, err) }()

	if err := ap.bus.ExpireAccount(ctx, acc.ID); err != nil {
		return err
	}

	ap.mu.Lock()
	ap.expired++
	ap.mu.Unlock()
	ap.logger.Infow("account expired", "account", acc.ID, "expiryHeight", acc.ExpiryHeight, "payments", acc.PaymentCount)
	return nil
}

func (ap *Autopilot) sweepAccount(ctx context.Context, acc api.AccountInfo) (err error) {
	ctx, span := tracing.AccountSpan(ctx, "autopilot: sweep", acc.ID)
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	sig := ephemeralaccounts.SignSweep(ap.key, acc.ID, ap.destination, acc.SweepNonce)
	if err := ap.bus.SweepAccount(ctx, acc.ID, ap.destination, sig); err != nil {
		return err
	}
	elapsed := time.Since(start)

	ap.mu.Lock()
	ap.swept++
	ap.sweepDurations = append(ap.sweepDurations, float64(elapsed.Milliseconds()))
	if len(ap.sweepDurations) > sweepDurationsWindow {
		ap.sweepDurations = ap.sweepDurations[1:]
	}
	ap.mu.Unlock()
	ap.logger.Infow("account swept", "account", acc.ID, "destination", ap.destination, "payments", acc.PaymentCount, "elapsed", elapsed)
	return nil
}

// handleResult decides what happens to an account after an operation on it
// failed. Accounts that reached a terminal status concurrently are skipped,
// retryable failures are tried again in the next iteration and all other
// failures abandon the account until the autopilot is restarted.
func (ap *Autopilot) handleResult(id api.AccountID, op string, err error) {
	switch {
	case err == nil:
		return
	case utils.IsErr(err, api.ErrAccountAlreadySwept), utils.IsErr(err, api.ErrAccountExpired):
		ap.logger.Debugw(fmt.Sprintf("skipping %s, account changed concurrently", op), "account", id, zap.Error(err))
	case api.IsRetryable(err):
		ap.mu.Lock()
		ap.retries++
		ap.mu.Unlock()
		ap.logger.Warnw(fmt.Sprintf("failed to %s account, retrying in the next iteration", op), "account", id, zap.Error(err))
	default:
		ap.mu.Lock()
		ap.abandoned[id] = err
		ap.mu.Unlock()
		ap.logger.Errorw(fmt.Sprintf("failed to %s account, abandoning it", op), "account", id, zap.Error(err))
	}
}

func (ap *Autopilot) isAbandoned(id api.AccountID) bool {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	_, ok := ap.abandoned[id]
	return ok
}

func (ap *Autopilot) stateHandlerGET(jc jape.Context) {
	api.WriteResponse(jc, AutopilotStateResp(ap.State()))
}

func (ap *Autopilot) triggerHandlerPOST(jc jape.Context) {
	jc.Encode(api.AutopilotTriggerResponse{Triggered: ap.Trigger()})
}
