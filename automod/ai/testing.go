package ai

import (
	"context"
	"sync"
)

// Classifier returning a fixed verdict (or error), for tests.
type FakeClassifier struct {
	lk      sync.Mutex
	verdict Verdict
	err     error
	calls   int
}

var _ Classifier = (*FakeClassifier)(nil)

func NewFakeClassifier(v Verdict) *FakeClassifier {
	return &FakeClassifier{verdict: v}
}

func (c *FakeClassifier) Set(v Verdict, err error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.verdict = v
	c.err = err
}

func (c *FakeClassifier) Calls() int {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.calls
}

func (c *FakeClassifier) Classify(ctx context.Context, content, communityID string) (Verdict, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.calls++
	if c.err != nil {
		return NeutralVerdict(), c.err
	}
	return c.verdict, nil
}
