package fiberscript

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTask_ResolveThenWait(t *testing.T) {
	tsk := newTask()
	tsk.resolve(Int(7))
	v, err := tsk.wait()
	assert.NoError(t, err)
	assert.Equal(t, int64(7), v.AsInt())
}

func TestTask_RejectThenWait(t *testing.T) {
	tsk := newTask()
	wantErr := errors.New("boom")
	tsk.reject(wantErr)
	_, err := tsk.wait()
	assert.Equal(t, wantErr, err)
}

func TestTask_ResolveAfterRejectIsNoop(t *testing.T) {
	tsk := newTask()
	tsk.reject(errors.New("first"))
	tsk.resolve(Int(1))
	_, err := tsk.wait()
	assert.EqualError(t, err, "first")
}

func TestTask_WaitBlocksUntilResolved(t *testing.T) {
	tsk := newTask()
	done := make(chan struct{})
	go func() {
		v, err := tsk.wait()
		assert.NoError(t, err)
		assert.Equal(t, int64(99), v.AsInt())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("wait returned before resolve was called")
	case <-time.After(20 * time.Millisecond):
	}

	tsk.resolve(Int(99))
	<-done
}

func TestSyncScheduler_RunsInline(t *testing.T) {
	ran := false
	SyncScheduler{}.Post(func() { ran = true })
	assert.True(t, ran)
}

// TestExecutionContext_Suspend exercises the VM-facing suspend/resume
// handshake a host AsyncFunction drives (library.go's execContext).
func TestExecutionContext_Suspend(t *testing.T) {
	ctx := execContext{vm: &VM{heap: NewHeap(NewConfig()), cfg: NewConfig()}}
	resume, wait := ctx.Suspend()

	go resume(Int(5), nil)

	v, err := wait()
	assert.NoError(t, err)
	assert.Equal(t, int64(5), v.AsInt())
}
