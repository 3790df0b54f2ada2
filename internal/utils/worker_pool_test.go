package utils_test

import (
	"sync/atomic"
	"testing"

	"github.com/benmeehan/iothub-agent/internal/utils"
	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_RunsAllTasks(t *testing.T) {
	pool := utils.NewWorkerPool(3, 10)

	var done atomic.Int32
	for i := 0; i < 25; i++ {
		assert.NoError(t, pool.Submit(func() { done.Add(1) }))
	}
	pool.Shutdown()

	assert.Equal(t, int32(25), done.Load())
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := utils.NewWorkerPool(1, 1)
	pool.Shutdown()
	pool.Shutdown()

	assert.ErrorIs(t, pool.Submit(func() {}), utils.ErrPoolClosed)
}
