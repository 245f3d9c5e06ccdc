// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mongodb/mongo-tenant-tools/common/failpoint"
	"github.com/mongodb/mongo-tenant-tools/common/testtype"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stageLog records the order of stage runner callbacks.
type stageLog struct {
	events []string
}

func (l *stageLog) stage(name string, results ...AfterStage) Stage {
	calls := 0
	return Stage{Name: name, Run: func(context.Context) (AfterStage, error) {
		l.events = append(l.events, name)
		after := ContinueNormally
		if calls < len(results) {
			after = results[calls]
		}
		calls++
		return after, nil
	}}
}

func (l *stageLog) failing(name string, err error) Stage {
	return Stage{Name: name, Run: func(context.Context) (AfterStage, error) {
		l.events = append(l.events, name)
		return ContinueNormally, err
	}}
}

func (l *stageLog) runner(stages ...Stage) *StageRunner {
	return &StageRunner{
		Namespace:     "tenant1_db.orders",
		Stages:        stages,
		PreStage:      func() { l.events = append(l.events, "pre") },
		PostStage:     func() { l.events = append(l.events, "post") },
		Drain:         func() { l.events = append(l.events, "drain") },
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
	}
}

func TestStageRunnerOrder(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	l := &stageLog{}
	r := l.runner(l.stage("a"), l.stage("b"), l.stage("c"))
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"pre", "a", "b", "c", "post"}, l.events)
}

func TestStageRunnerSkipRemaining(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	l := &stageLog{}
	r := l.runner(l.stage("a", SkipRemainingStages), l.stage("b"))
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"pre", "a", "post"}, l.events)
}

func TestStageRunnerRetry(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	t.Run("retried stage then continues", func(t *testing.T) {
		l := &stageLog{}
		r := l.runner(l.stage("a", RetryStage, RetryStage), l.stage("b"))
		require.NoError(t, r.Run(context.Background()))
		assert.Equal(t, []string{"pre", "a", "a", "a", "b", "post"}, l.events)
	})

	t.Run("retries are bounded", func(t *testing.T) {
		l := &stageLog{}
		r := l.runner(l.stage("a", RetryStage, RetryStage, RetryStage), l.stage("b"))
		err := r.Run(context.Background())
		require.Error(t, err)
		assert.True(t, IsRemoteOperationFailed(err))
		assert.Equal(t, []string{"pre", "a", "a", "a", "drain", "post"}, l.events)
	})
}

func TestStageRunnerSourceGone(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	l := &stageLog{}
	r := l.runner(l.failing("a", notFound()), l.stage("b"))
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"pre", "a", "drain", "post"}, l.events)
}

func TestStageRunnerErrors(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	t.Run("plain errors are remote failures", func(t *testing.T) {
		l := &stageLog{}
		cause := errors.New("connection reset")
		r := l.runner(l.stage("a"), l.failing("b", cause), l.stage("c"))

		err := r.Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)

		var cerr *CloneError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, RemoteOperationFailed, cerr.Kind)
		assert.Equal(t, "b", cerr.Stage)
		assert.Equal(t, "tenant1_db.orders", cerr.Namespace)
		assert.Equal(t, []string{"pre", "a", "b", "drain", "post"}, l.events)
	})

	t.Run("typed errors keep their kind", func(t *testing.T) {
		l := &stageLog{}
		r := l.runner(l.failing("a", integrityViolationf("tenant1_db.orders", "bad catalog")))

		err := r.Run(context.Background())
		assert.True(t, IsIntegrityViolation(err))
		assert.ErrorContains(t, err, "bad catalog")
	})
}

func TestStageRunnerExit(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	t.Run("exit requested before a stage", func(t *testing.T) {
		l := &stageLog{}
		var exit atomic.Bool
		r := l.runner(
			Stage{Name: "a", Run: func(context.Context) (AfterStage, error) {
				exit.Store(true)
				return ContinueNormally, nil
			}},
			l.stage("b"),
		)
		r.MustExit = exit.Load

		err := r.Run(context.Background())
		require.Error(t, err)
		assert.True(t, IsCancelled(err))
		assert.Equal(t, []string{"pre", "drain", "post"}, l.events)
	})

	t.Run("context cancelled while waiting to retry", func(t *testing.T) {
		l := &stageLog{}
		ctx, cancel := context.WithCancel(context.Background())
		r := l.runner(Stage{Name: "a", Run: func(context.Context) (AfterStage, error) {
			cancel()
			return RetryStage, nil
		}})
		r.RetryInterval = time.Hour

		err := r.Run(ctx)
		require.Error(t, err)
		assert.True(t, IsCancelled(err))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestHangBeforeStageFailpoint(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)
	defer failpoint.Reset()

	var ran atomic.Bool
	r := &StageRunner{
		Cloner:    clonerName,
		Namespace: "tenant1_db.orders",
		Stages: []Stage{{Name: "query", Run: func(context.Context) (AfterStage, error) {
			ran.Store(true)
			return ContinueNormally, nil
		}}},
	}
	failpoint.Set(hangBeforeStageFailpoint, "TenantCollectionCloner:query@tenant1_db.orders")

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())

	failpoint.Clear(hangBeforeStageFailpoint)
	select {
	case err := <-done:
		require.NoError(t, err)
		assert.True(t, ran.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("stage runner did not continue after the failpoint was cleared")
	}
}

func TestHangBeforeStageFailpointForOtherCloner(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)
	defer failpoint.Reset()

	var ran atomic.Bool
	r := &StageRunner{
		Cloner:    clonerName,
		Namespace: "tenant1_db.orders",
		Stages: []Stage{{Name: "query", Run: func(context.Context) (AfterStage, error) {
			ran.Store(true)
			return ContinueNormally, nil
		}}},
	}
	failpoint.Set(hangBeforeStageFailpoint, "TenantFileCloner:query")

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
		assert.True(t, ran.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("stage runner hung on a failpoint naming another cloner")
	}
}
