package harness

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/roach88/tillpos/internal/cloud"
	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/logging"
	"github.com/roach88/tillpos/internal/receipt"
	"github.com/roach88/tillpos/internal/store"
	"github.com/roach88/tillpos/internal/syncer"
	"github.com/roach88/tillpos/internal/testutil"
	"github.com/roach88/tillpos/internal/till"
)

// Epoch is the wall-clock start of every run. The clock advances one second
// per read, so timestamps are identical across runs.
var Epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// TenantID is the cloud tenant a scenario's till syncs as.
const TenantID = "harness"

type options struct {
	dir    string
	logger *logrus.Logger
}

// Option configures Run.
type Option func(*options)

// WithDir places the run's databases in dir, which should be empty. By
// default a temporary directory is created and removed afterwards.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithLogger sets the logger handed to the till, the sync engine and the
// cloud ledger.
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run executes a scenario against a fresh till store and cloud ledger.
//
// Execution flow:
//  1. Open the till store, apply the seed, open the cloud ledger
//  2. Execute setup steps (any failure aborts the run)
//  3. Execute flow steps, checking each against its expect clause
//  4. Evaluate assertions over the trace and both databases
//
// Expectation and assertion failures are collected in the Result. The
// returned error is reserved for runs that could not execute at all.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	dir := o.dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "tillpos-harness-*")
		if err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	e, err := newEnv(ctx, scenario, dir, o.logger)
	if err != nil {
		return nil, err
	}
	defer e.close()

	result := NewResult()
	if err := e.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}
	if err := e.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("flow failed: %w", err)
	}
	result.Printed = e.printed.String()

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, e.assertionContext()) {
		result.AddError(msg)
	}

	o.logger.WithFields(logrus.Fields{
		"scenario": scenario.Name,
		"pass":     result.Pass,
		"events":   len(result.Trace),
	}).Info("scenario finished")
	return result, nil
}

// env is one run's wiring: till, outbox drain and cloud ledger sharing a
// deterministic clock.
type env struct {
	tillID  string
	store   *store.Store
	cloudDB *sql.DB
	svc     *till.Service
	engine  *syncer.Engine
	pusher  cloud.LocalPusher
	printed bytes.Buffer
	logger  *logrus.Logger

	sess     till.Session
	refs     map[string]string
	lastItem string
	seq      int64
}

func newEnv(ctx context.Context, scenario *Scenario, dir string, logger *logrus.Logger) (*env, error) {
	e := &env{
		tillID: scenario.Till,
		refs:   make(map[string]string),
		logger: logger,
	}
	if e.tillID == "" {
		e.tillID = DefaultTillID
	}

	serviceCharge := decimal.Zero
	if scenario.ServiceChargePercent != "" {
		pct, err := decimal.NewFromString(scenario.ServiceChargePercent)
		if err != nil {
			return nil, fmt.Errorf("service charge: %w", err)
		}
		serviceCharge = pct
	}

	st, err := store.Open(filepath.Join(dir, "till.db"))
	if err != nil {
		return nil, err
	}
	e.store = st
	if err := st.ApplySeed(ctx, scenario.Seed); err != nil {
		e.close()
		return nil, fmt.Errorf("apply seed: %w", err)
	}

	db, err := cloud.OpenDB(cloud.DBConfig{Driver: "sqlite", DSN: filepath.Join(dir, "cloud.db")}, logger)
	if err != nil {
		e.close()
		return nil, err
	}
	if e.cloudDB, err = db.DB(); err != nil {
		e.close()
		return nil, fmt.Errorf("cloud db handle: %w", err)
	}

	clock := testutil.NewStepClock(Epoch, time.Second)
	ledger := cloud.NewLedger(db, cloud.WithClock(clock), cloud.WithLogger(logger))
	e.pusher = cloud.LocalPusher{Ledger: ledger, TenantID: TenantID}
	e.engine = syncer.New(st, e.pusher, syncer.WithClock(clock), syncer.WithLogger(logger))
	e.svc = till.New(st,
		till.WithClock(clock),
		till.WithIDGenerator(domain.NewFixedGenerator("id")),
		till.WithPrinter(receipt.NewTextPrinter(&e.printed)),
		till.WithServiceCharge(serviceCharge),
		till.WithLogger(logger),
	)
	return e, nil
}

func (e *env) close() {
	if e.cloudDB != nil {
		e.cloudDB.Close()
	}
	if e.store != nil {
		e.store.Close()
	}
}

func (e *env) assertionContext() *AssertionContext {
	return &AssertionContext{Till: e.store.DB(), Cloud: e.cloudDB}
}

// session is the operating session, or a bare till session before any
// shift was opened.
func (e *env) session() till.Session {
	if e.sess.TillID == "" {
		return till.Session{TillID: e.tillID}
	}
	return e.sess
}

// item resolves the item arg through the refs of earlier add_item steps.
func (e *env) item(args stepArgs) (string, error) {
	name, err := args.str("item")
	if err != nil {
		return "", err
	}
	if id, ok := e.refs[name]; ok {
		return id, nil
	}
	return name, nil
}

func (e *env) nextSeq() int64 {
	e.seq++
	return e.seq
}

// outcome is what a step produced.
type outcome struct {
	Case   string
	Result interface{}
	Err    error
}

// runStep invokes a step and records it in the trace.
func (e *env) runStep(ctx context.Context, step Step, result *Result) (outcome, error) {
	fn, ok := actions[step.Action]
	if !ok {
		return outcome{}, fmt.Errorf("unknown action %q", step.Action)
	}
	result.AddInvocationTrace(step.Action, step.Args, e.nextSeq())

	res, err := fn(ctx, e, stepArgs(step.Args))
	out := outcome{Case: CaseOK, Err: err}
	if err == nil {
		if step.Ref != "" {
			e.refs[step.Ref] = e.lastItem
		}
		if out.Result, err = normalize(res); err != nil {
			return outcome{}, fmt.Errorf("%s result: %w", step.Action, err)
		}
	} else {
		c, details, ok := outcomeOf(err)
		if !ok {
			return outcome{}, fmt.Errorf("%s: %w", step.Action, err)
		}
		out.Case = c
		if out.Result, err = normalize(details); err != nil {
			return outcome{}, fmt.Errorf("%s details: %w", step.Action, err)
		}
	}

	result.AddCompletionTrace(step.Action, out.Case, out.Result, e.nextSeq())
	e.logger.WithFields(logrus.Fields{
		"action": step.Action,
		"case":   out.Case,
	}).Debug("step completed")
	return out, nil
}

// executeSetup runs setup steps. They carry no expectations and must
// complete with case ok.
func (e *env) executeSetup(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		out, err := e.runStep(ctx, step, result)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		if out.Case != CaseOK {
			return fmt.Errorf("setup step %d (%s): %v", i, step.Action, out.Err)
		}
	}
	return nil
}

// executeFlow runs flow steps and validates their expect clauses. A step
// whose outcome differs from its expectation fails the result; the flow
// continues so later steps still show in the trace.
func (e *env) executeFlow(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		out, err := e.runStep(ctx, step, result)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}

		want := CaseOK
		if step.Expect != nil {
			want = step.Expect.Case
		}
		if out.Case != want {
			msg := fmt.Sprintf("flow[%d] %s: expected case %s, got %s", i, step.Action, want, out.Case)
			if out.Err != nil {
				msg += fmt.Sprintf(" (%v)", out.Err)
			}
			result.AddError(msg)
			continue
		}
		if step.Expect == nil || len(step.Expect.Result) == 0 {
			continue
		}
		if err := matchResult(out.Result, step.Expect.Result); err != nil {
			result.AddError(fmt.Sprintf("flow[%d] %s: %v", i, step.Action, err))
		}
	}
	return nil
}

// matchResult checks that every expected field is present in actual with
// an equal value. Both sides are compared in their JSON form.
func matchResult(actual interface{}, expected map[string]interface{}) error {
	want, err := normalize(expected)
	if err != nil {
		return fmt.Errorf("expected result: %w", err)
	}
	got, _ := actual.(map[string]interface{})
	for key, wantVal := range want.(map[string]interface{}) {
		gotVal, ok := got[key]
		if !ok {
			return fmt.Errorf("result field %q missing", key)
		}
		if !valuesEqual(gotVal, wantVal) {
			return fmt.Errorf("result field %q = %v, want %v", key, gotVal, wantVal)
		}
	}
	return nil
}

// normalize converts v to its JSON data model (maps, slices, float64,
// string, bool). Empty maps become nil.
func normalize(v interface{}) (interface{}, error) {
	if m, ok := v.(map[string]interface{}); ok && len(m) == 0 {
		return nil, nil
	}
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
