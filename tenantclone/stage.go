// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"context"
	"strings"
	"time"

	"github.com/mongodb/mongo-tenant-tools/common/failpoint"
	"github.com/mongodb/mongo-tenant-tools/common/log"
	"github.com/pkg/errors"
)

// AfterStage tells the StageRunner what to do once a stage returns
// without error.
type AfterStage int

const (
	// ContinueNormally moves on to the next stage.
	ContinueNormally AfterStage = iota
	// SkipRemainingStages ends the run successfully.
	SkipRemainingStages
	// RetryStage runs the same stage again after the retry interval.
	RetryStage
)

// Stage is one named step of a run.
type Stage struct {
	Name string
	Run  func(ctx context.Context) (AfterStage, error)
}

const hangBeforeStageFailpoint = "hangBeforeClonerStage"

// failpointPollInterval is how often a hanging failpoint loop checks
// whether to stop.
var failpointPollInterval = time.Second

// StageRunner runs a fixed list of stages in order.
//
// PreStage runs before the first stage and PostStage after the run ends,
// whatever the outcome. Drain waits for asynchronous work started by the
// stages; it runs before any error or cancellation is returned and after a
// source-gone stop, so nothing started by the run is still writing when Run
// returns.
type StageRunner struct {
	// Cloner names the kind of cloner driving the run, e.g.
	// "TenantCollectionCloner".
	Cloner    string
	Namespace string
	Stages    []Stage

	PreStage  func()
	PostStage func()
	Drain     func()
	// MustExit is polled before every stage and while waiting to retry.
	MustExit func() bool

	MaxRetries    int
	RetryInterval time.Duration
}

// Run executes the stages. It returns nil if every stage continued
// normally or one of them skipped the rest, including when the source
// collection was found to be gone.
func (r *StageRunner) Run(ctx context.Context) error {
	if r.PreStage != nil {
		r.PreStage()
	}
	if r.PostStage != nil {
		defer r.PostStage()
	}

	for _, stage := range r.Stages {
		after, err := r.runStage(ctx, stage)
		if err != nil {
			return err
		}
		if after == SkipRemainingStages {
			log.Logvf(log.DebugLow, "skipping stages after %#q for %v", stage.Name, r.Namespace)
			return nil
		}
	}
	return nil
}

func (r *StageRunner) runStage(ctx context.Context, stage Stage) (AfterStage, error) {
	r.hangBeforeStage(stage.Name)

	for attempt := 0; ; attempt++ {
		if err := r.checkExit(ctx); err != nil {
			return r.fail(stage.Name, err)
		}

		log.Logvf(log.DebugLow, "tenant collection cloner running stage %#q for %v", stage.Name, r.Namespace)
		after, err := stage.Run(ctx)
		if err != nil {
			if errors.Is(err, ErrNamespaceNotFound) {
				log.Logvf(log.Info,
					"tenant collection cloner stopped because collection %v was dropped on the donor: %v",
					r.Namespace, err)
				r.drain()
				return SkipRemainingStages, nil
			}
			return r.fail(stage.Name, err)
		}
		if after != RetryStage {
			return after, nil
		}

		if attempt >= r.MaxRetries {
			return r.fail(stage.Name, newCloneError(RemoteOperationFailed, r.Namespace,
				errors.Errorf("stage did not succeed after %v attempts", attempt+1)))
		}
		log.Logvf(log.Info, "retrying stage %#q for %v in %v", stage.Name, r.Namespace, r.RetryInterval)
		if err := r.sleep(ctx, r.RetryInterval); err != nil {
			return r.fail(stage.Name, err)
		}
	}
}

func (r *StageRunner) drain() {
	if r.Drain != nil {
		r.Drain()
	}
}

// fail drains and then returns err as a CloneError tagged with the stage.
func (r *StageRunner) fail(stageName string, err error) (AfterStage, error) {
	r.drain()

	var cerr *CloneError
	if !errors.As(err, &cerr) {
		kind := RemoteOperationFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = Cancelled
		}
		cerr = newCloneError(kind, r.Namespace, err)
	}
	if cerr.Stage == "" {
		cerr.Stage = stageName
	}
	return ContinueNormally, cerr
}

func (r *StageRunner) checkExit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return newCloneError(Cancelled, r.Namespace, err)
	}
	if r.MustExit != nil && r.MustExit() {
		return newCloneError(Cancelled, r.Namespace, errors.New("clone was asked to exit"))
	}
	return nil
}

// sleep waits for d, returning early with a Cancelled error if the context
// ends or an exit is requested.
func (r *StageRunner) sleep(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		if err := r.checkExit(ctx); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		wait := min(remaining, failpointPollInterval)
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
}

// hangBeforeStage blocks while the hangBeforeClonerStage failpoint names
// this stage. The value is "[<cloner>:]<stage>[@<namespace>]"; an omitted
// cloner or namespace matches any.
func (r *StageRunner) hangBeforeStage(stageName string) {
	matches := func() bool {
		value, ok := failpoint.Get(hangBeforeStageFailpoint)
		if !ok {
			return false
		}
		cloner, rest, hasCloner := strings.Cut(value, ":")
		if !hasCloner {
			rest = cloner
		} else if cloner != r.Cloner {
			return false
		}
		name, ns, hasNs := strings.Cut(rest, "@")
		return name == stageName && (!hasNs || ns == r.Namespace)
	}
	for matches() && !(r.MustExit != nil && r.MustExit()) {
		log.Logvf(log.Always, "%v fail point enabled for stage %#q of %v. Blocking until fail point is disabled",
			hangBeforeStageFailpoint, stageName, r.Namespace)
		time.Sleep(failpointPollInterval)
	}
}
