package signalrouter

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/apperr"
	"spotgrid-engine/internal/domain"
	"spotgrid-engine/internal/lock"
	"spotgrid-engine/internal/pool"
	"spotgrid-engine/internal/position"
	"spotgrid-engine/internal/queue"
	"spotgrid-engine/internal/repo"
)

const lockTTL = 30 * time.Second

// Result is the outcome of routing one webhook payload, carrying enough
// to render the HTTP response the external collaborator owns.
type Result struct {
	StatusCode int
	Reason     string
	GroupID    string
	PyramidID  string
	QueuedID   string
}

// Router is the C4 admission path: secret verification, short-circuit
// rejection of unsupported intents, lock-serialized classification, and
// dispatch to the pool, queue, or position manager.
type Router struct {
	users     *repo.UserRepo
	configs   *repo.DCAConfigRepo
	positions *repo.PositionRepo
	locks     *lock.Store
	pool      *pool.Manager
	queue     *queue.Manager
	position  *position.Manager
	transact  repo.Transactor
}

// New constructs a Router over its collaborators.
func New(users *repo.UserRepo, configs *repo.DCAConfigRepo, positions *repo.PositionRepo, locks *lock.Store, poolMgr *pool.Manager, queueMgr *queue.Manager, positionMgr *position.Manager, transact repo.Transactor) *Router {
	return &Router{
		users:     users,
		configs:   configs,
		positions: positions,
		locks:     locks,
		pool:      poolMgr,
		queue:     queueMgr,
		position:  positionMgr,
		transact:  transact,
	}
}

// Route runs the full admission order against one webhook payload.
func (r *Router) Route(ctx context.Context, p WebhookPayload) (Result, error) {
	user, err := r.users.FindOne(ctx, p.UserID)
	if err != nil {
		return Result{StatusCode: 401, Reason: "unknown user"}, nil
	}

	if user.SecureSignals {
		if !secretMatches(user.WebhookSecret, p.Secret) {
			return Result{StatusCode: 403, Reason: "secret mismatch"}, nil
		}
	}

	isExit := p.ExecutionIntent.Type == domain.IntentExit
	if !isExit && p.ExecutionIntent.Side == domain.SideSell {
		return Result{StatusCode: 400, Reason: "short-not-supported"}, nil
	}

	lockName := fmt.Sprintf("webhook:%s:%s:%s:%s", p.UserID, p.TV.Symbol, p.TV.Timeframe, p.ExecutionIntent.Side)
	ownerID := lock.NewOwnerID()
	acquired, err := r.locks.AcquireLock(ctx, lockName, ownerID, lockTTL)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "signalrouter.Route", err)
	}
	if !acquired {
		return Result{StatusCode: 409, Reason: "signal already in flight"}, nil
	}
	defer func() {
		if err := r.locks.ReleaseLock(ctx, lockName, ownerID); err != nil {
			logx.WithContext(ctx).Errorf("signalrouter: release lock %s failed: %v", lockName, err)
		}
	}()

	if isExit {
		return r.routeExit(ctx, p)
	}

	active, err := r.positions.FindActiveGroup(ctx, p.UserID, p.TV.Symbol, p.TV.Timeframe, p.TV.Exchange, domain.SideBuy)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "signalrouter.Route", err)
	}
	if active != nil {
		return r.routeContinuation(ctx, p, active)
	}
	return r.routeFreshEntry(ctx, p, user.Risk.MaxOpenPositionsGlobal)
}

func (r *Router) routeExit(ctx context.Context, p WebhookPayload) (Result, error) {
	err := r.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
		return r.queue.CancelForSymbol(ctx, session, p.UserID, p.TV.Symbol, p.TV.Timeframe, p.TV.Exchange, domain.SideBuy)
	})
	if err != nil {
		logx.WithContext(ctx).Errorf("signalrouter: cancel queued entries failed: %v", err)
	}

	active, err := r.positions.FindActiveGroup(ctx, p.UserID, p.TV.Symbol, p.TV.Timeframe, p.TV.Exchange, domain.SideBuy)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "signalrouter.routeExit", err)
	}
	if active == nil {
		return Result{StatusCode: 202, Reason: "no active position to exit"}, nil
	}

	group, err := r.position.HandleExit(ctx, active.ID, false, "tradingview exit signal")
	if err != nil {
		return Result{}, err
	}
	return Result{StatusCode: 202, Reason: "exit accepted", GroupID: group.ID}, nil
}

func (r *Router) routeContinuation(ctx context.Context, p WebhookPayload, active *domain.PositionGroup) (Result, error) {
	config, err := r.configs.FindActive(ctx, p.UserID, p.TV.Symbol, p.TV.Timeframe, p.TV.Exchange, string(domain.SideBuy))
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindValidation, "signalrouter.routeContinuation", err)
	}

	var pyramid *domain.Pyramid
	var groupID string
	err = r.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
		group, err := r.positions.FindGroupForUpdate(ctx, session, active.ID)
		if err != nil {
			return err
		}
		groupID = group.ID
		pyramid, err = r.position.PyramidContinuation(ctx, session, group, *config, p.BasePrice)
		return err
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindAdmission {
			return Result{StatusCode: 400, Reason: "max-pyramids-reached", GroupID: active.ID}, nil
		}
		return Result{}, err
	}

	if _, err := r.position.SubmitPendingOrders(ctx, groupID, pyramid.ID, true); err != nil {
		return Result{}, err
	}
	return Result{StatusCode: 202, Reason: "pyramid continuation accepted", GroupID: groupID, PyramidID: pyramid.ID}, nil
}

func (r *Router) routeFreshEntry(ctx context.Context, p WebhookPayload, maxOpenPositionsGlobal int) (Result, error) {
	config, err := r.configs.FindActive(ctx, p.UserID, p.TV.Symbol, p.TV.Timeframe, p.TV.Exchange, string(domain.SideBuy))
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindValidation, "signalrouter.routeFreshEntry", err)
	}

	var (
		granted bool
		group   *domain.PositionGroup
		pyramid *domain.Pyramid
	)
	err = r.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
		ok, err := r.pool.RequestSlot(ctx, session, p.UserID, maxOpenPositionsGlobal)
		if err != nil {
			return err
		}
		granted = ok
		if !ok {
			return nil
		}
		group, pyramid, err = r.position.CreateFromSignal(ctx, session, position.CreateSignalInput{
			UserID:    p.UserID,
			Config:    *config,
			Symbol:    p.TV.Symbol,
			Timeframe: p.TV.Timeframe,
			Exchange:  p.TV.Exchange,
			BasePrice: p.BasePrice,
		})
		return err
	})
	if err != nil {
		return Result{}, err
	}

	if !granted {
		signal := &domain.QueuedSignal{
			UserID:    p.UserID,
			Exchange:  p.TV.Exchange,
			Symbol:    p.TV.Symbol,
			Timeframe: p.TV.Timeframe,
			Side:      domain.SideBuy,

			EntryPrice: p.BasePrice,
		}
		var queued *domain.QueuedSignal
		enqueueErr := r.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
			var err error
			queued, err = r.queue.Enqueue(ctx, session, signal)
			return err
		})
		if enqueueErr != nil {
			return Result{}, enqueueErr
		}
		return Result{StatusCode: 202, Reason: "no slot available, enqueued", QueuedID: queued.ID}, nil
	}

	if _, err := r.position.SubmitPendingOrders(ctx, group.ID, pyramid.ID, false); err != nil {
		return Result{}, err
	}
	return Result{StatusCode: 202, Reason: "accepted", GroupID: group.ID, PyramidID: pyramid.ID}, nil
}

// StatusForError maps an error surfaced by Route to the HTTP status the
// webhook collaborator should return when Route itself returned a non-nil
// error rather than a Result (i.e. everything past the admission checks
// that already produce their own status code inline).
func StatusForError(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return 422
	case apperr.KindAdmission:
		return 400
	case apperr.KindExchangeTransient:
		return 503
	case apperr.KindExchangeFatal:
		return 502
	default:
		return 500
	}
}

// secretMatches performs a constant-time comparison so timing cannot
// leak how many leading bytes of a guessed secret were correct.
func secretMatches(want, got string) bool {
	if len(want) != len(got) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
