package dhcpclient

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// Test that the client times out when no lease is bound within the
// default timeout.
func TestTimeoutWithoutLease(t *testing.T) {
	// Arrange
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	env.start4(t)

	// Act
	env.clock.Add(44 * time.Second)
	require.NoError(t, env.loop.Sync())
	stateBefore := env.state(t)
	env.clock.Add(time.Second)

	// Assert
	require.Equal(t, StateUnknown, stateBefore)
	env.waitForState(t, StateTimeout)
	require.Equal(t, []State{StateTimeout}, env.recorder.states())
	env.do(t, func() {
		require.False(t, env.client.TimeoutArmed())
	})
}

// Test that the bound lease disarms the timer.
func TestBoundDisarmsTimeout(t *testing.T) {
	// Arrange
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	process := newFakeProcess(1234)
	env.backend.EXPECT().StartIPv4("", "").DoAndReturn(func(string, string) error {
		env.client.WatchChild(process)
		return nil
	})
	bridge := NewEventBridge(env.loop)
	env.do(t, func() {
		bridge.Register(env.client)
		require.NoError(t, env.client.StartIPv4(nil, "", ""))
	})

	// Act
	env.clock.Add(10 * time.Second)
	env.do(t, func() {
		require.True(t, bridge.HandleEvent("eth0", 1234, testOptions4(), "BOUND"))
	})
	env.clock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, env.loop.Sync())

	// Assert
	require.Equal(t, StateBound, env.state(t))
	notifications := env.recorder.get()
	require.Len(t, notifications, 1)
	require.Equal(t, StateBound, notifications[0].State)
	require.NotNil(t, notifications[0].Config)
	env.do(t, func() {
		require.False(t, env.client.TimeoutArmed())
	})
}

// Test that the custom timeout is honored and the infinite timeout
// disables the timer.
func TestCustomAndInfiniteTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	settings := testSettings4()
	settings.Timeout = 5
	custom := newTestClientEnv(t, ctrl, settings)
	custom.start4(t)
	custom.clock.Add(5 * time.Second)
	custom.waitForState(t, StateTimeout)

	settings.Timeout = TimeoutInfinity
	infinite := newTestClientEnv(t, ctrl, settings)
	infinite.start4(t)
	infinite.do(t, func() {
		require.False(t, infinite.client.TimeoutArmed())
	})
	infinite.clock.Add(24 * time.Hour)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateUnknown, infinite.state(t))
}

// Test that the re-armed timer ignores the previous expiration.
func TestRestartTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	env.start4(t)

	env.clock.Add(40 * time.Second)
	env.do(t, func() {
		env.client.StartTimeout()
	})
	env.clock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateUnknown, env.state(t))

	env.clock.Add(35 * time.Second)
	env.waitForState(t, StateTimeout)
}

// Test that the unexpected exit of the helper process fails the lease and
// terminates the client.
func TestChildExitAfterBound(t *testing.T) {
	// Arrange
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	process := newFakeProcess(4321)
	env.backend.EXPECT().StartIPv4("", "").DoAndReturn(func(string, string) error {
		env.client.WatchChild(process)
		return nil
	})
	env.backend.EXPECT().Stop(false)
	env.do(t, func() {
		require.NoError(t, env.client.StartIPv4(nil, "", ""))
		require.Equal(t, 4321, env.client.Pid())
		require.Equal(t, process, env.client.Process())
		require.NoError(t, env.client.ApplyLease(StateBound, testOptions4()))
	})

	// Act
	process.exit(errors.New("exit status 1"))

	// Assert
	env.waitForState(t, StateTerminated)
	require.Equal(t, []State{StateBound, StateFail, StateTerminated}, env.recorder.states())
	env.do(t, func() {
		require.Zero(t, env.client.Pid())
		require.Nil(t, env.client.Process())
	})
}

// Test that the exit of the process after the final state only
// terminates the client.
func TestChildExitAfterFinalState(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	process := newFakeProcess(4321)
	env.backend.EXPECT().Stop(false)

	env.do(t, func() {
		env.client.WatchChild(process)
		require.NoError(t, env.client.SetState(StateBound, &testConfig, nil))
		require.NoError(t, env.client.SetState(StateDone, nil, nil))
	})
	// The watch is torn down by the final state so the exit is not seen.
	process.exit(nil)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateDone, env.state(t))

	env.do(t, func() {
		env.client.Stop(false)
	})
	require.Equal(t, []State{StateBound, StateDone, StateTerminated}, env.recorder.states())
}

// Test that the exit of the replaced process is ignored.
func TestStaleChildExit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	first := newFakeProcess(100)
	second := newFakeProcess(200)

	env.do(t, func() {
		env.client.WatchChild(first)
		env.client.WatchChild(second)
	})
	first.exit(nil)
	time.Sleep(10 * time.Millisecond)

	env.do(t, func() {
		require.Equal(t, 200, env.client.Pid())
		require.Equal(t, StateUnknown, env.client.State())
	})
	require.Empty(t, env.recorder.get())
}
