package live

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"quantlab/internal/broker"
	"quantlab/internal/errors"
	"quantlab/internal/logger"
	"quantlab/internal/market"
	"quantlab/internal/market/indicator"
	"quantlab/internal/monitoring"
	"quantlab/internal/strategy"
	"quantlab/internal/strategy/signal"
)

// Store is the persistence surface the execution loop needs.
type Store interface {
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	ListRunningDeployments(ctx context.Context) ([]*Deployment, error)
	SaveDeployment(ctx context.Context, d *Deployment) error
	// AcquireLease claims exclusive processing of a deployment until
	// the given expiry, returning false when another worker holds it.
	AcquireLease(ctx context.Context, deploymentID string, until time.Time) (bool, error)
	ReleaseLease(ctx context.Context, deploymentID string) error
	// UpsertOrder mirrors a brokerage order, keyed by the brokerage's
	// own order id so repeated syncs are safe to re-run.
	UpsertOrder(ctx context.Context, deploymentID string, o *broker.Order) error
	CreateSnapshot(ctx context.Context, s *Snapshot) error
	GetDeploymentStats(ctx context.Context, deploymentID string) (*DeploymentStats, error)
}

// Config tunes the execution loop.
type Config struct {
	Interval      market.Interval
	BarCount      int
	MinBars       int
	LeaseDuration time.Duration
}

// DefaultConfig returns the execution loop defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      market.Interval5m,
		BarCount:      100,
		MinBars:       20,
		LeaseDuration: 2 * time.Minute,
	}
}

// Engine is the per-deployment execution loop. Each Tick is a
// stateless, idempotent invocation; all state lives in the deployment
// record.
type Engine struct {
	store    Store
	broker   broker.Broker
	bars     market.Provider
	calendar *market.Calendar
	metrics  *monitoring.Metrics
	cfg      Config
	log      logger.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates an execution engine.
func NewEngine(store Store, brk broker.Broker, bars market.Provider, calendar *market.Calendar, metrics *monitoring.Metrics, cfg Config) *Engine {
	if cfg.BarCount <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		store:    store,
		broker:   brk,
		bars:     bars,
		calendar: calendar,
		metrics:  metrics,
		cfg:      cfg,
		log:      logger.Global().WithField("component", "live_engine"),
		now:      time.Now,
	}
}

// Tick runs one execution loop pass for a single deployment.
func (e *Engine) Tick(ctx context.Context, req TickRequest) (*TickResult, error) {
	now := e.now()
	ok, err := e.store.AcquireLease(ctx, req.DeploymentID, now.Add(e.cfg.LeaseDuration))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.ErrCodeDeploymentBusy,
			"deployment %s is being processed by another worker", req.DeploymentID)
	}
	defer func() {
		if relErr := e.store.ReleaseLease(context.WithoutCancel(ctx), req.DeploymentID); relErr != nil {
			e.log.Warn("failed to release deployment lease",
				"deployment_id", req.DeploymentID, "error", relErr)
		}
	}()

	d, err := e.store.GetDeployment(ctx, req.DeploymentID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusRunning {
		return nil, errors.Newf(errors.ErrCodeConfigInvalid,
			"deployment %s is %s, not running", d.ID, d.Status)
	}
	return e.tick(ctx, d, req.ForceTestTrade, now)
}

// TickAll processes every running deployment sequentially with
// per-deployment error isolation.
func (e *Engine) TickAll(ctx context.Context) (*TickBatchResult, error) {
	deployments, err := e.store.ListRunningDeployments(ctx)
	if err != nil {
		return nil, err
	}

	batch := &TickBatchResult{}
	for _, d := range deployments {
		result, err := e.Tick(ctx, TickRequest{DeploymentID: d.ID})
		if err != nil {
			if batch.Errors == nil {
				batch.Errors = make(map[string]string)
			}
			batch.Errors[d.ID] = err.Error()
			e.log.Error("deployment tick failed", "deployment_id", d.ID, "error", err)
			if e.metrics != nil {
				e.metrics.RecordTick(d.ID, "error")
			}
			continue
		}
		batch.Results = append(batch.Results, *result)
	}
	return batch, nil
}

func (e *Engine) tick(ctx context.Context, d *Deployment, forceTestTrade bool, now time.Time) (*TickResult, error) {
	log := e.log.WithField("deployment_id", d.ID)
	result := &TickResult{DeploymentID: d.ID, Signal: string(signal.TypeHold)}

	// 1. Market-hours gate. A forced test trade outside hours is an
	// explicit rejection, never a queued order.
	if !e.calendar.IsOpen(now) {
		if forceTestTrade {
			return nil, errors.New(errors.ErrCodeMarketClosed,
				"test trade rejected: market is closed")
		}
		result.SignalReason = "market closed"
		if e.metrics != nil {
			e.metrics.RecordTick(d.ID, "market_closed")
		}
		return result, nil
	}
	result.MarketOpen = true

	// 2. Daily rollover resets the loss counters at the first tick of
	// a new trading day.
	if day := e.calendar.TradingDay(now); d.TradingDay != day {
		d.TradingDay = day
		d.DailyPnL = 0
		d.DailyTrades = 0
	}

	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	equity := account.Equity.InexactFloat64()
	buyingPower := account.BuyingPower.InexactFloat64()
	result.Equity = equity
	if e.metrics != nil {
		e.metrics.SetDeploymentEquity(d.ID, equity)
	}

	// 3. Halt gates. An existing halt blocks all order placement until
	// cleared by an operator; a fresh breach sets the flag exactly once.
	if d.Halted {
		result.Halted = true
		result.DailyPnL = d.DailyPnL
		result.SignalReason = "halted: " + d.HaltReason
		return result, e.persist(ctx, d, account, now)
	}
	if loss := equity - d.Config.StartingEquity; d.Config.MaxDailyLoss > 0 && loss < -d.Config.MaxDailyLoss {
		d.Halted = true
		d.HaltReason = fmt.Sprintf("daily loss limit breached: equity %.2f, starting %.2f, limit %.2f",
			equity, d.Config.StartingEquity, d.Config.MaxDailyLoss)
		log.Warn("deployment halted",
			"equity", equity,
			"starting_equity", d.Config.StartingEquity,
			"max_daily_loss", d.Config.MaxDailyLoss)
		if e.metrics != nil {
			e.metrics.RecordRiskHalt("daily_loss")
		}
		result.Halted = true
		result.SignalReason = d.HaltReason
		return result, e.persist(ctx, d, account, now)
	}

	symbol := d.PrimarySymbol()
	if symbol == "" {
		return nil, errors.Newf(errors.ErrCodeConfigInvalid,
			"deployment %s has no symbols", d.ID)
	}

	bars, err := e.bars.GetBars(ctx, symbol, e.cfg.Interval, e.cfg.BarCount)
	if err != nil {
		return nil, err
	}
	// Too little history is a benign no-op tick, not an error.
	if len(bars) < e.cfg.MinBars {
		result.SignalReason = fmt.Sprintf("insufficient data: %d bars (need %d)", len(bars), e.cfg.MinBars)
		if e.metrics != nil {
			e.metrics.RecordTick(d.ID, "insufficient_data")
		}
		return result, e.persist(ctx, d, account, now)
	}

	gen, err := signal.ForFamily(d.Family)
	if err != nil {
		return nil, err
	}
	sig := gen.Generate(bars, d.Params, d.Position)

	if forceTestTrade {
		if d.Position != nil {
			return nil, errors.New(errors.ErrCodeConfigInvalid,
				"test trade rejected: a position is already open")
		}
		sig = signal.Signal{Type: signal.TypeEntryLong, Reason: "forced test trade"}
	}

	result.Signal = string(sig.Type)
	result.SignalReason = sig.Reason
	d.LastSignalType = string(sig.Type)
	d.LastSignalAt = &now

	price := market.LastClose(bars)

	switch {
	case d.Position == nil && (sig.Type == signal.TypeEntryLong || sig.Type == signal.TypeEntryShort):
		placed, err := e.openPosition(ctx, d, sig, bars, price, buyingPower, now, log)
		if err != nil {
			return nil, err
		}
		result.OrderPlaced = placed

	case d.Position != nil:
		exit, why := e.shouldExit(d.Position, sig, price)
		if exit {
			if err := e.closePosition(ctx, d, price, why, now, log); err != nil {
				return nil, err
			}
			result.OrderPlaced = true
			result.Signal = string(signal.TypeExit)
			result.SignalReason = why
		}
	}

	result.CurrentPosition = d.Position
	result.DailyPnL = d.DailyPnL
	if e.metrics != nil {
		e.metrics.RecordTick(d.ID, "ok")
	}
	return result, e.persist(ctx, d, account, now)
}

// openPosition sizes and places an entry order, then records the new
// position with ATR-derived stop-loss and take-profit levels.
func (e *Engine) openPosition(ctx context.Context, d *Deployment, sig signal.Signal, bars []market.Bar, price, buyingPower float64, now time.Time, log logger.Logger) (bool, error) {
	if price <= 0 {
		return false, errors.New(errors.ErrCodeMarketData, "last close price is not positive")
	}
	budget := math.Min(d.Config.MaxPositionSizeUSD, buyingPower*0.9)
	qty := int64(math.Floor(budget / price))
	if qty <= 0 {
		// Not enough buying power for a single share; skip silently.
		log.Debug("entry skipped, computed quantity is zero",
			"budget", budget, "price", price)
		return false, nil
	}

	side := broker.OrderSideBuy
	posSide := strategy.PositionSideLong
	if sig.Type == signal.TypeEntryShort {
		side = broker.OrderSideSell
		posSide = strategy.PositionSideShort
	}

	order, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:      d.PrimarySymbol(),
		Qty:         qty,
		Side:        side,
		Type:        "market",
		TimeInForce: "day",
	})
	if err != nil {
		return false, err
	}
	if err := e.store.UpsertOrder(ctx, d.ID, order); err != nil {
		return false, err
	}

	atr := indicator.ATR(bars, d.Config.ATRPeriod)
	stop, take := protectionLevels(posSide, price, atr, d.Config.StopLossATRMult, d.Config.TakeProfitATRMult)

	d.Position = &strategy.Position{
		Symbol:     d.PrimarySymbol(),
		Side:       posSide,
		Qty:        qty,
		EntryPrice: price,
		EntryTime:  now,
		StopLoss:   stop,
		TakeProfit: take,
	}
	d.DailyTrades++

	log.Info("position opened",
		"symbol", d.PrimarySymbol(),
		"side", string(posSide),
		"qty", qty,
		"entry_price", price,
		"stop_loss", stop,
		"take_profit", take,
		"atr", atr,
		"reason", sig.Reason)
	if e.metrics != nil {
		e.metrics.RecordOrderPlaced(d.PrimarySymbol(), string(side))
	}
	return true, nil
}

// shouldExit decides whether an open position closes this tick, either
// on an exit signal or on a protective level being crossed.
func (e *Engine) shouldExit(pos *strategy.Position, sig signal.Signal, price float64) (bool, string) {
	switch {
	case sig.Type == signal.TypeExit:
		return true, sig.Reason
	case pos.StopHit(price):
		return true, fmt.Sprintf("stop loss hit at %.2f (level %.2f)", price, pos.StopLoss)
	case pos.TakeProfitHit(price):
		return true, fmt.Sprintf("take profit hit at %.2f (level %.2f)", price, pos.TakeProfit)
	}
	return false, ""
}

// closePosition flattens the entire quantity at market and realizes
// the position's P&L into the daily counter.
func (e *Engine) closePosition(ctx context.Context, d *Deployment, price float64, reason string, now time.Time, log logger.Logger) error {
	pos := d.Position
	side := broker.OrderSideSell
	if pos.Side == strategy.PositionSideShort {
		side = broker.OrderSideBuy
	}

	order, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:      pos.Symbol,
		Qty:         pos.Qty,
		Side:        side,
		Type:        "market",
		TimeInForce: "day",
	})
	if err != nil {
		return err
	}
	if err := e.store.UpsertOrder(ctx, d.ID, order); err != nil {
		return err
	}

	realized := pos.UnrealizedPnL(price)
	d.DailyPnL += realized
	d.DailyTrades++
	d.Position = nil

	log.Info("position closed",
		"symbol", pos.Symbol,
		"side", string(pos.Side),
		"qty", pos.Qty,
		"entry_price", pos.EntryPrice,
		"exit_price", price,
		"realized_pnl", realized,
		"daily_pnl", d.DailyPnL,
		"reason", reason)
	if e.metrics != nil {
		e.metrics.RecordOrderPlaced(pos.Symbol, string(side))
	}
	return nil
}

// persist saves the deployment and writes the invocation's snapshot.
// Snapshots are written whether or not a trade occurred.
func (e *Engine) persist(ctx context.Context, d *Deployment, account *broker.Account, now time.Time) error {
	e.syncOrderMirror(ctx, d)
	d.UpdatedAt = now
	if err := e.store.SaveDeployment(ctx, d); err != nil {
		return err
	}
	return e.store.CreateSnapshot(ctx, &Snapshot{
		ID:           uuid.NewString(),
		DeploymentID: d.ID,
		Equity:       account.Equity.InexactFloat64(),
		Cash:         account.Cash.InexactFloat64(),
		Position:     d.Position,
		DailyPnL:     d.DailyPnL,
		CreatedAt:    now,
	})
}

// syncOrderMirror refreshes the stored copy of the deployment's
// brokerage orders so later fills reach the mirror. The mirror is
// derived data; a failed sync is logged and the tick continues.
func (e *Engine) syncOrderMirror(ctx context.Context, d *Deployment) {
	orders, err := e.broker.GetOrders(ctx, "all")
	if err != nil {
		e.log.Warn("order mirror sync failed", "deployment_id", d.ID, "error", err.Error())
		return
	}
	symbol := d.PrimarySymbol()
	for i := range orders {
		if orders[i].Symbol != symbol {
			continue
		}
		if err := e.store.UpsertOrder(ctx, d.ID, &orders[i]); err != nil {
			e.log.Warn("order mirror upsert failed",
				"deployment_id", d.ID, "broker_order_id", orders[i].ID, "error", err.Error())
			return
		}
	}
}

// protectionLevels derives stop-loss and take-profit prices from ATR.
// Zero multipliers or a zero ATR disable the corresponding level.
func protectionLevels(side strategy.PositionSide, entry, atr, stopMult, takeMult float64) (stop, take float64) {
	if atr <= 0 {
		return 0, 0
	}
	dir := 1.0
	if side == strategy.PositionSideShort {
		dir = -1.0
	}
	if stopMult > 0 {
		stop = entry - dir*atr*stopMult
	}
	if takeMult > 0 {
		take = entry + dir*atr*takeMult
	}
	return stop, take
}

// Stop halts trading for a deployment and marks it stopped. Any open
// position is flattened at market first.
func (e *Engine) Stop(ctx context.Context, deploymentID string) (*Deployment, error) {
	d, err := e.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusStopped {
		return d, nil
	}

	if d.Position != nil {
		bars, err := e.bars.GetBars(ctx, d.Position.Symbol, e.cfg.Interval, 1)
		if err != nil {
			return nil, err
		}
		price := market.LastClose(bars)
		if err := e.closePosition(ctx, d, price, "deployment stopped", e.now(),
			e.log.WithField("deployment_id", d.ID)); err != nil {
			return nil, err
		}
	}

	d.Status = StatusStopped
	d.UpdatedAt = e.now()
	if err := e.store.SaveDeployment(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ClearHalt lifts a risk halt. Halts are never auto-cleared; this is
// an explicit operator action.
func (e *Engine) ClearHalt(ctx context.Context, deploymentID string) (*Deployment, error) {
	d, err := e.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if !d.Halted {
		return d, nil
	}
	e.log.Info("halt cleared", "deployment_id", d.ID, "previous_reason", d.HaltReason)
	d.Halted = false
	d.HaltReason = ""
	d.UpdatedAt = e.now()
	if err := e.store.SaveDeployment(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Evaluate checks a deployment's realized performance against its pass
// criteria and stops it. The verdict drives the owning strategy
// version's promotion, handled by the caller.
func (e *Engine) Evaluate(ctx context.Context, deploymentID string) (*EvaluationResult, error) {
	d, err := e.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	stats, err := e.store.GetDeploymentStats(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	criteria := d.Config.PassCriteria
	checks := []CriterionResult{
		{
			Name:   "min_trades",
			Passed: stats.Trades >= criteria.MinTrades,
			Detail: fmt.Sprintf("trades: %d (min %d)", stats.Trades, criteria.MinTrades),
		},
		{
			Name:   "min_win_rate",
			Passed: stats.WinRate >= criteria.MinWinRate,
			Detail: fmt.Sprintf("win rate: %.4f (min %.4f)", stats.WinRate, criteria.MinWinRate),
		},
		{
			Name:   "min_net_pnl",
			Passed: stats.NetPnL >= criteria.MinNetPnL,
			Detail: fmt.Sprintf("net pnl: %.2f (min %.2f)", stats.NetPnL, criteria.MinNetPnL),
		},
	}
	if criteria.MaxDrawdown > 0 {
		checks = append(checks, CriterionResult{
			Name:   "max_drawdown",
			Passed: stats.MaxDrawdown <= criteria.MaxDrawdown,
			Detail: fmt.Sprintf("drawdown: %.4f (max %.4f)", stats.MaxDrawdown, criteria.MaxDrawdown),
		})
	}

	passed := true
	for _, c := range checks {
		if !c.Passed {
			passed = false
		}
	}

	d.Status = StatusStopped
	d.UpdatedAt = e.now()
	if err := e.store.SaveDeployment(ctx, d); err != nil {
		return nil, err
	}

	e.log.Info("deployment evaluated",
		"deployment_id", d.ID,
		"passed", passed,
		"trades", stats.Trades,
		"net_pnl", stats.NetPnL,
		"win_rate", stats.WinRate,
		"max_drawdown", stats.MaxDrawdown)
	return &EvaluationResult{DeploymentID: d.ID, Passed: passed, Checks: checks}, nil
}
