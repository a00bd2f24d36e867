// Copyright 2025 Edgeo SCADA
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

package session

import (
	"context"

	"golang.org/x/sync/semaphore"
)

const maxReaders = 1 << 30

// rwLock is a reader/writer lock whose acquisitions honour a context.
// Waiters are served in order, so a pending writer holds back new readers.
type rwLock struct {
	sem *semaphore.Weighted
}

func newRWLock() *rwLock {
	return &rwLock{sem: semaphore.NewWeighted(maxReaders)}
}

func (l *rwLock) RLock(ctx context.Context) error { return l.sem.Acquire(ctx, 1) }

func (l *rwLock) RUnlock() { l.sem.Release(1) }

func (l *rwLock) Lock(ctx context.Context) error { return l.sem.Acquire(ctx, maxReaders) }

func (l *rwLock) TryLock() bool { return l.sem.TryAcquire(maxReaders) }

func (l *rwLock) Unlock() { l.sem.Release(maxReaders) }
