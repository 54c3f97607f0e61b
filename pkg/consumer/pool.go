// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package consumer

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// pool owns the partition workers of one run. Cancelling it, or the first
// worker returning an error, cancels every worker's context.
type pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
	err    error
}

func newPool(size int) *pool {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(size)
	return &pool{ctx: gctx, cancel: cancel, group: group}
}

func (p *pool) Go(fn func(ctx context.Context) error) {
	p.group.Go(func() error { return fn(p.ctx) })
}

// seal must be called once every worker has been submitted.
func (p *pool) seal() {
	p.done = make(chan struct{})
	go func() {
		p.err = p.group.Wait()
		close(p.done)
	}()
}

// wait blocks until every worker returned or timeout elapsed. It reports
// whether the pool drained in time.
func (p *pool) wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}
