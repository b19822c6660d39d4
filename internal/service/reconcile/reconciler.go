// Package reconcile drives the hosting deployment to serve a target model.
//
// A reconcile inspects the deployment, clears a failed or in-flight prior state,
// applies the target model id (create or in-place update) and waits for the
// platform to settle. A deployment that lands in FAILED after apply gets a bounded
// number of delete-and-recreate cycles before the reconcile gives up.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/platform"
	"github.com/evanshlom/AwsAiProd/pkg/config"
)

const (
	defaultPollInitial  = 2 * time.Second
	defaultPollMax      = 30 * time.Second
	defaultTimeout      = 20 * time.Minute
	defaultMaxSelfHeals = 1
	defaultModelParam   = "ModelId"
	pollMultiplier      = 2
)

// Progress phases reported to the Observer.
const (
	PhaseInspect  = "inspect"
	PhaseRecover  = "recover"
	PhaseApply    = "apply"
	PhaseWait     = "wait"
	PhaseSelfHeal = "self_heal"
	PhaseLive     = "live"
	PhaseFailed   = "failed"
)

// Observer receives reconcile progress. Implementations must not block.
type Observer interface {
	Observe(event domain.DeploymentEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(domain.DeploymentEvent)

func (f ObserverFunc) Observe(event domain.DeploymentEvent) { f(event) }

// Request asks for the deployment to serve ModelID.
type Request struct {
	ModelID string
	Mode    domain.DeploymentMode
	// RunID tags progress events; optional.
	RunID string
}

// Result describes the live deployment.
type Result struct {
	Outputs    map[string]string
	Deployment domain.Deployment
	SelfHeals  int
}

// Reconciler owns one named deployment.
type Reconciler struct {
	stacks   platform.StackClient
	observer Observer
	logger   *slog.Logger

	name         string
	templateURL  string
	modelParam   string
	pollInitial  time.Duration
	pollMax      time.Duration
	timeout      time.Duration
	maxSelfHeals int

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New constructs a reconciler for cfg.StackName. observer may be nil.
func New(stacks platform.StackClient, observer Observer, logger *slog.Logger, cfg config.APIConfig) *Reconciler {
	r := &Reconciler{
		stacks:       stacks,
		observer:     observer,
		logger:       logger,
		name:         cfg.StackName,
		templateURL:  strings.TrimSpace(cfg.StackTemplateURL),
		modelParam:   cfg.StackModelParam,
		pollInitial:  cfg.DeployPollInitial,
		pollMax:      cfg.DeployPollMax,
		timeout:      cfg.DeployTimeout,
		maxSelfHeals: cfg.DeployMaxSelfHeals,
		now:          time.Now,
		sleep:        sleepContext,
	}
	if r.modelParam == "" {
		r.modelParam = defaultModelParam
	}
	if r.pollInitial <= 0 {
		r.pollInitial = defaultPollInitial
	}
	if r.pollMax <= 0 {
		r.pollMax = defaultPollMax
	}
	if r.pollMax < r.pollInitial {
		r.pollMax = r.pollInitial
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if r.maxSelfHeals < 0 {
		r.maxSelfHeals = defaultMaxSelfHeals
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "reconciler", "deployment", r.name)
	return r
}

// Name returns the deployment this reconciler manages.
func (r *Reconciler) Name() string {
	return r.name
}

// Reconcile drives the deployment to serve req.ModelID and returns its outputs.
// Failures are *Error values.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (Result, error) {
	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		return Result{}, newError(ReasonValidation, "validate", errors.New("target model id is required"))
	}
	if strings.TrimSpace(r.name) == "" {
		return Result{}, newError(ReasonValidation, "validate", errors.New("deployment name is not configured"))
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeDeploy
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	run := &attempt{r: r, runID: req.RunID, modelID: modelID, mode: mode, deadline: r.now().Add(r.timeout)}

	r.logger.Info("reconcile started", "model", modelID, "mode", mode, "run_id", req.RunID)
	res, err := run.execute(ctx)
	if err != nil {
		r.logger.Error("reconcile failed", "model", modelID, "reason", ReasonOf(err), "error", err)
		run.emit(PhaseFailed, "", err.Error())
		return Result{}, err
	}
	r.logger.Info("reconcile complete", "model", modelID, "self_heals", res.SelfHeals)
	run.emit(PhaseLive, domain.DeploymentLive, "")
	return res, nil
}

// attempt carries the state of one Reconcile call.
type attempt struct {
	r        *Reconciler
	runID    string
	modelID  string
	mode     domain.DeploymentMode
	deadline time.Time
}

func (a *attempt) execute(ctx context.Context) (Result, error) {
	current, err := a.inspect(ctx)
	if err != nil {
		return Result{}, err
	}
	a.emit(PhaseInspect, current.Status, current.PlatformStatus)

	current, err = a.recover(ctx, current)
	if err != nil {
		return Result{}, err
	}

	heals := 0
	for {
		if err := a.apply(ctx, current); err != nil {
			return Result{}, err
		}
		settled, err := a.awaitStable(ctx)
		if err != nil {
			return Result{}, err
		}
		if settled.Status == domain.DeploymentLive {
			return a.publish(settled, heals)
		}

		if heals >= a.r.maxSelfHeals {
			return Result{}, newError(ReasonRecoveryExhausted, "self_heal",
				fmt.Errorf("deployment %s is %s after %d recovery cycle(s): %s", a.r.name, settled.PlatformStatus, heals, settled.StatusReason))
		}
		heals++
		a.r.logger.Warn("deployment failed after apply, recreating", "status", settled.PlatformStatus, "reason", settled.StatusReason, "cycle", heals)
		a.emit(PhaseSelfHeal, settled.Status, settled.StatusReason)

		if settled.Status != domain.DeploymentAbsent {
			if err := a.deleteAndWait(ctx); err != nil {
				return Result{}, err
			}
		}
		current = domain.Deployment{Name: a.r.name, Status: domain.DeploymentAbsent}
	}
}

func (a *attempt) inspect(ctx context.Context) (domain.Deployment, error) {
	d, err := a.r.stacks.Describe(ctx, a.r.name)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return domain.Deployment{Name: a.r.name, Status: domain.DeploymentAbsent}, nil
		}
		return domain.Deployment{}, platformError("inspect", err)
	}
	return d, nil
}

// recover brings the deployment to a state apply can act on: ABSENT or LIVE.
func (a *attempt) recover(ctx context.Context, current domain.Deployment) (domain.Deployment, error) {
	var err error
	switch current.Status {
	case domain.DeploymentCreating, domain.DeploymentUpdating:
		a.r.logger.Info("deployment busy, waiting before apply", "status", current.PlatformStatus)
		current, err = a.awaitStable(ctx)
		if err != nil {
			return current, err
		}
	case domain.DeploymentDeleting:
		a.r.logger.Info("deployment is being deleted, waiting for removal")
		if _, err := a.awaitAbsent(ctx, true); err != nil {
			return current, err
		}
		return domain.Deployment{Name: a.r.name, Status: domain.DeploymentAbsent}, nil
	}

	if current.Status != domain.DeploymentFailed {
		return current, nil
	}
	a.r.logger.Warn("deployment in failed state, deleting before apply", "status", current.PlatformStatus, "reason", current.StatusReason)
	a.emit(PhaseRecover, current.Status, current.StatusReason)
	if err := a.deleteAndWait(ctx); err != nil {
		return current, err
	}
	return domain.Deployment{Name: a.r.name, Status: domain.DeploymentAbsent}, nil
}

func (a *attempt) apply(ctx context.Context, current domain.Deployment) error {
	params := map[string]string{a.r.modelParam: a.modelID}
	if current.Status == domain.DeploymentAbsent {
		return a.create(ctx, params, true)
	}
	return a.update(ctx, params, true)
}

func (a *attempt) create(ctx context.Context, params map[string]string, allowUpdate bool) error {
	if a.r.templateURL == "" {
		return newError(ReasonValidation, "create", errors.New("deployment template is not configured"))
	}
	a.emit(PhaseApply, domain.DeploymentCreating, "create")
	err := a.r.stacks.Create(ctx, a.r.name, a.r.templateURL, params)
	switch {
	case err == nil:
		return nil
	case allowUpdate && errors.Is(err, platform.ErrAlreadyExists):
		a.r.logger.Info("deployment appeared concurrently, updating instead")
		return a.update(ctx, params, false)
	default:
		return platformError("create", err)
	}
}

func (a *attempt) update(ctx context.Context, params map[string]string, allowCreate bool) error {
	in := platform.UpdateInput{
		Template:            a.r.templateURL,
		UsePreviousTemplate: a.mode == domain.ModeUpdateModel || a.r.templateURL == "",
		Parameters:          params,
	}
	a.emit(PhaseApply, domain.DeploymentUpdating, "update")
	err := a.r.stacks.Update(ctx, a.r.name, in)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, platform.ErrNoUpdates):
		a.r.logger.Info("deployment already serves target model")
		return nil
	case allowCreate && errors.Is(err, platform.ErrNotFound):
		a.r.logger.Info("deployment vanished before update, creating instead")
		return a.create(ctx, params, false)
	default:
		return platformError("update", err)
	}
}

func (a *attempt) deleteAndWait(ctx context.Context) error {
	if err := a.r.stacks.Delete(ctx, a.r.name); err != nil && !errors.Is(err, platform.ErrNotFound) {
		return platformError("delete", err)
	}
	_, err := a.awaitAbsent(ctx, false)
	return err
}

func (a *attempt) publish(d domain.Deployment, heals int) (Result, error) {
	if got, ok := d.Parameters[a.r.modelParam]; ok && got != a.modelID {
		return Result{}, newError(ReasonPlatformError, "publish",
			fmt.Errorf("deployment is live with %s=%q, want %q (update rolled back: %s)", a.r.modelParam, got, a.modelID, d.StatusReason))
	}
	return Result{
		Outputs:    maps.Clone(d.Outputs),
		Deployment: d,
		SelfHeals:  heals,
	}, nil
}

// awaitStable polls until the deployment is LIVE, FAILED or gone.
func (a *attempt) awaitStable(ctx context.Context) (domain.Deployment, error) {
	return a.poll(ctx, "await_stable", func(d domain.Deployment) (bool, error) {
		return d.Status.Stable() || d.Status == domain.DeploymentAbsent, nil
	})
}

// awaitAbsent polls until the deployment is gone. A FAILED status flagged as a
// failed deletion, or seen after the platform reported DELETING, means the
// deletion itself failed.
func (a *attempt) awaitAbsent(ctx context.Context, sawDeleting bool) (domain.Deployment, error) {
	return a.poll(ctx, "await_absent", func(d domain.Deployment) (bool, error) {
		switch d.Status {
		case domain.DeploymentAbsent:
			return true, nil
		case domain.DeploymentDeleting:
			sawDeleting = true
		case domain.DeploymentFailed:
			if sawDeleting || d.DeleteFailed {
				return false, newError(ReasonPlatformError, "delete", fmt.Errorf("deletion failed: %s: %s", d.PlatformStatus, d.StatusReason))
			}
		}
		return false, nil
	})
}

func (a *attempt) poll(ctx context.Context, op string, done func(domain.Deployment) (bool, error)) (domain.Deployment, error) {
	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(a.r.pollInitial),
		backoff.WithMaxInterval(a.r.pollMax),
		backoff.WithMultiplier(pollMultiplier),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	for {
		d, err := a.inspect(ctx)
		if err != nil {
			return d, err
		}
		a.emit(PhaseWait, d.Status, d.PlatformStatus)
		finished, err := done(d)
		if err != nil || finished {
			return d, err
		}

		remaining := a.deadline.Sub(a.r.now())
		if remaining <= 0 {
			return d, newError(ReasonTimeout, op, fmt.Errorf("deployment %s still %s after %s", a.r.name, d.PlatformStatus, a.r.timeout))
		}
		wait := policy.NextBackOff()
		if wait > remaining {
			wait = remaining
		}
		if err := a.r.sleep(ctx, wait); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return d, newError(ReasonTimeout, op, err)
			}
			return d, newError(ReasonPlatformError, op, err)
		}
	}
}

func (a *attempt) emit(phase string, status domain.DeploymentStatus, message string) {
	if a.r.observer == nil {
		return
	}
	a.r.observer.Observe(domain.DeploymentEvent{
		Deployment: a.r.name,
		RunID:      a.runID,
		Phase:      phase,
		Status:     status,
		Message:    message,
		At:         a.r.now().UTC(),
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
