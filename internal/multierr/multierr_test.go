package multierr_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cube-orchestrator/taskrunner/internal/multierr"
)

func TestCollector_ErrorOrNilWithNothingAdded(t *testing.T) {
	c := &multierr.Collector{}
	assert.NoError(t, c.ErrorOrNil())
}

func TestCollector_NilErrorsAreIgnored(t *testing.T) {
	c := &multierr.Collector{}
	c.Add(nil)
	assert.NoError(t, c.ErrorOrNil())
}

func TestCollector_AggregatesMultipleErrors(t *testing.T) {
	c := &multierr.Collector{}
	c.Add(errors.New("stopping db failed"))
	c.Add(errors.New("removing app failed"))

	err := c.ErrorOrNil()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "stopping db failed")
		assert.Contains(t, err.Error(), "removing app failed")
	}
}

func TestCollector_SafeForConcurrentAdd(t *testing.T) {
	c := &multierr.Collector{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add(errors.New("failure"))
		}()
	}
	wg.Wait()

	err := c.ErrorOrNil()
	assert.Error(t, err)
}
