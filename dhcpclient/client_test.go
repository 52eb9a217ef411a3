package dhcpclient

import (
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"isc.org/leasekeeper/ipconfig"
)

// Process standing in for a helper program.
type fakeProcess struct {
	pid  int
	done chan struct{}
	err  error
}

// Creates a running fake process.
func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitStatus() error { return p.err }

// Terminates the fake process.
func (p *fakeProcess) exit(err error) {
	p.err = err
	close(p.done)
}

// Records the notifications emitted by the client.
type notificationRecorder struct {
	mutex         sync.Mutex
	notifications []Notification
}

// Stores the notification.
func (r *notificationRecorder) OnNotification(notification Notification) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.notifications = append(r.notifications, notification)
}

// Returns the copy of the recorded notifications.
func (r *notificationRecorder) get() []Notification {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Notification{}, r.notifications...)
}

// Returns the states of the recorded state-changed notifications.
func (r *notificationRecorder) states() []State {
	var states []State
	for _, notification := range r.get() {
		if notification.Kind == NotificationStateChanged {
			states = append(states, notification.State)
		}
	}
	return states
}

// Test environment of a single client.
type testClientEnv struct {
	clock    *clock.Mock
	loop     *Loop
	backend  *MockBackend
	client   *Client
	recorder *notificationRecorder
}

// Returns the valid settings of the IPv4 client.
func testSettings4() Settings {
	return Settings{
		Family:    ipconfig.FamilyIPv4,
		Interface: "eth0",
		IfIndex:   2,
		HWAddr:    net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		Hostname:  "host1.example.org",
		UUID:      "b2f3d5e0-7b7f-4e58-a7f1-0d8e0a3bde11",
	}
}

// Returns the valid settings of the IPv6 client.
func testSettings6() Settings {
	settings := testSettings4()
	settings.Family = ipconfig.FamilyIPv6
	return settings
}

// Creates the client with the mock backend and the mock clock.
func newTestClientEnv(t *testing.T, ctrl *gomock.Controller, settings Settings) *testClientEnv {
	mock := clock.NewMock()
	loop := NewLoop(mock)
	t.Cleanup(loop.Shutdown)
	backend := NewMockBackend(ctrl)
	recorder := &notificationRecorder{}

	var client *Client
	err := loop.Call(func() (err error) {
		client, err = NewClient(settings, loop, "mock", func(*Client) (Backend, error) {
			return backend, nil
		}, WithObserver(recorder))
		return
	})
	require.NoError(t, err)

	return &testClientEnv{
		clock:    mock,
		loop:     loop,
		backend:  backend,
		client:   client,
		recorder: recorder,
	}
}

// Executes the function on the loop.
func (env *testClientEnv) do(t *testing.T, f func()) {
	t.Helper()
	require.NoError(t, env.loop.Call(func() error {
		f()
		return nil
	}))
}

// Returns the current client state.
func (env *testClientEnv) state(t *testing.T) State {
	var state State
	env.do(t, func() { state = env.client.State() })
	return state
}

// Waits until the client reaches the state.
func (env *testClientEnv) waitForState(t *testing.T, state State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return env.state(t) == state
	}, 2*time.Second, time.Millisecond)
}

// Starts the IPv4 client successfully.
func (env *testClientEnv) start4(t *testing.T) {
	t.Helper()
	env.backend.EXPECT().StartIPv4("", "").Return(nil)
	env.do(t, func() {
		require.NoError(t, env.client.StartIPv4(nil, "", ""))
	})
}

// Returns the option bag of a valid IPv4 lease.
func testOptions4() map[string]string {
	return map[string]string{
		"new_ip_address":      "192.0.2.10",
		"new_subnet_mask":     "255.255.255.0",
		"new_routers":         "192.0.2.1",
		"new_dhcp_lease_time": "3600",
	}
}

// Test that the client is not created with invalid settings.
func TestNewClientInvalidSettings(t *testing.T) {
	constructor := func(*Client) (Backend, error) { return nil, nil }
	loop := NewLoop(nil)
	defer loop.Shutdown()

	testCases := map[string]func(*Settings){
		"empty interface":  func(s *Settings) { s.Interface = " " },
		"invalid family":   func(s *Settings) { s.Family = 5 },
		"invalid index":    func(s *Settings) { s.IfIndex = 0 },
		"invalid hostname": func(s *Settings) { s.Hostname = "foo..bar" },
	}
	for name, modify := range testCases {
		t.Run(name, func(t *testing.T) {
			settings := testSettings4()
			modify(&settings)
			client, err := NewClient(settings, loop, "mock", constructor)
			require.Error(t, err)
			require.Nil(t, client)
		})
	}
}

// Test that the constructor error is returned.
func TestNewClientConstructorError(t *testing.T) {
	loop := NewLoop(nil)
	defer loop.Shutdown()

	client, err := NewClient(testSettings4(), loop, "mock", func(*Client) (Backend, error) {
		return nil, errors.New("foo")
	})

	require.ErrorContains(t, err, "foo")
	require.Nil(t, client)

	_, err = NewClient(testSettings4(), loop, "mock", nil)
	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
}

// Test the accessors of the new client.
func TestClientAccessors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	settings := testSettings4()
	settings.Flags = FlagUseFQDN
	settings.RouteTable = 100
	settings.RouteMetric = 50
	settings.BroadcastHWAddr = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	env := newTestClientEnv(t, ctrl, settings)

	env.do(t, func() {
		c := env.client
		require.Equal(t, ipconfig.FamilyIPv4, c.Family())
		require.Equal(t, "eth0", c.Interface())
		require.Equal(t, 2, c.IfIndex())
		require.Equal(t, settings.UUID, c.UUID())
		require.Equal(t, "host1.example.org", c.Hostname())
		require.EqualValues(t, 100, c.RouteTable())
		require.EqualValues(t, 50, c.RouteMetric())
		require.Equal(t, TimeoutDefault, c.Timeout())
		require.Equal(t, settings.HWAddr, c.HWAddr())
		require.Equal(t, settings.BroadcastHWAddr, c.BroadcastHWAddr())
		require.False(t, c.InfoOnly())
		require.True(t, c.UseFQDN())
		require.Zero(t, c.Pid())
		require.Equal(t, StateUnknown, c.State())
		require.Nil(t, c.IPConfig())
		require.Nil(t, c.Options())
		require.Equal(t, "mock", c.BackendName())
		require.Equal(t, env.loop, c.Loop())
		require.NotNil(t, c.Killer())
		require.Equal(t, "eth0", c.Logger().Data["iface"])

		c.SetRouteTable(200)
		c.SetRouteMetric(10)
		require.EqualValues(t, 200, c.IPParams().RouteTable)
		require.EqualValues(t, 10, c.IPParams().RouteMetric)
	})
}

// Test the hostname sent depending on the FQDN flag.
func TestRequestHostname(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	short := newTestClientEnv(t, ctrl, testSettings4())
	settings := testSettings4()
	settings.Flags = FlagUseFQDN
	settings.Hostname = "host1.example.org."
	full := newTestClientEnv(t, ctrl, settings)

	short.do(t, func() {
		require.Equal(t, "host1", short.client.RequestHostname())
	})
	full.do(t, func() {
		require.Equal(t, "host1.example.org", full.client.RequestHostname())
	})
}

// Test that starting arms the timeout and locks the client identifier.
func TestStartIPv4(t *testing.T) {
	// Arrange
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	clientID := ClientIDFromHWAddr(env.client.HWAddr())
	env.backend.EXPECT().StartIPv4("192.0.2.255", "192.0.2.10").DoAndReturn(func(string, string) error {
		// The identifier is visible to the backend.
		require.Equal(t, clientID, env.client.ClientID())
		return nil
	})

	env.do(t, func() {
		// Act
		err := env.client.StartIPv4(clientID, "192.0.2.255", "192.0.2.10")

		// Assert
		require.NoError(t, err)
		require.True(t, env.client.TimeoutArmed())
		require.ErrorIs(t, env.client.SetClientID([]byte{1, 2, 3}), ErrIdentifierLocked)
		require.ErrorIs(t, env.client.StartIPv4(nil, "", ""), ErrInvalidState)
		require.Equal(t, clientID, env.client.ClientID())
		require.Equal(t, StateUnknown, env.client.State())
	})
}

// Test that the failed start leaves the client unknown and unlocked.
func TestStartIPv4Failure(t *testing.T) {
	// Arrange
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	env.backend.EXPECT().StartIPv4("", "").Return(errors.New("cannot spawn"))

	env.do(t, func() {
		// Act
		err := env.client.StartIPv4([]byte{1, 2, 3}, "", "")

		// Assert
		require.ErrorContains(t, err, "cannot spawn")
		require.Equal(t, StateUnknown, env.client.State())
		require.False(t, env.client.TimeoutArmed())
		require.Nil(t, env.client.ClientID())
		require.NoError(t, env.client.SetClientID([]byte{1, 9}))
	})
	require.Empty(t, env.recorder.get())
}

// Test that the one-byte client identifier is rejected by the start.
func TestStartIPv4ClientIDTooShort(t *testing.T) {
	// Arrange
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())

	env.do(t, func() {
		// Act
		err := env.client.StartIPv4([]byte{1}, "", "")

		// Assert
		require.ErrorContains(t, err, "too short")
		require.Nil(t, env.client.ClientID())
		require.False(t, env.client.TimeoutArmed())
		require.NoError(t, env.client.SetClientID([]byte{1, 2}))
	})
}

// Test that IPv4 cannot be started on the IPv6 client and vice versa.
func TestStartWrongFamily(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env4 := newTestClientEnv(t, ctrl, testSettings4())
	env6 := newTestClientEnv(t, ctrl, testSettings6())

	env4.do(t, func() {
		err := env4.client.StartIPv6([]byte{0, 1}, true, "", netip.Addr{}, PrivacyDisabled, 0)
		require.ErrorIs(t, err, ErrInvalidState)
	})
	env6.do(t, func() {
		require.ErrorIs(t, env6.client.StartIPv4(nil, "", ""), ErrInvalidState)
	})
}

// Test that the persisted DUID takes precedence unless enforced.
func TestStartIPv6DUIDPrecedence(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	linkLocal := netip.MustParseAddr("fe80::1")
	supplied := []byte{0, 3, 0, 1, 1, 2, 3, 4, 5, 6}
	persisted := []byte{0, 4, 9, 9, 9, 9}

	t.Run("persisted wins", func(t *testing.T) {
		env := newTestClientEnv(t, ctrl, testSettings6())
		env.backend.EXPECT().GetDUID().Return(persisted)
		env.backend.EXPECT().StartIPv6("", linkLocal, PrivacyPreferPublic, uint(1)).Return(nil)
		env.do(t, func() {
			require.NoError(t, env.client.StartIPv6(supplied, false, "", linkLocal, PrivacyPreferPublic, 1))
			require.Equal(t, persisted, env.client.DUID())
		})
	})

	t.Run("enforced", func(t *testing.T) {
		env := newTestClientEnv(t, ctrl, testSettings6())
		env.backend.EXPECT().StartIPv6("", linkLocal, PrivacyDisabled, uint(0)).Return(nil)
		env.do(t, func() {
			require.NoError(t, env.client.StartIPv6(supplied, true, "", linkLocal, PrivacyDisabled, 0))
			require.Equal(t, supplied, env.client.DUID())
		})
	})

	t.Run("none", func(t *testing.T) {
		env := newTestClientEnv(t, ctrl, testSettings6())
		env.backend.EXPECT().GetDUID().Return(nil)
		env.do(t, func() {
			require.Error(t, env.client.StartIPv6(nil, false, "", linkLocal, PrivacyDisabled, 0))
			require.Nil(t, env.client.DUID())
		})
	})

	t.Run("failure restores", func(t *testing.T) {
		env := newTestClientEnv(t, ctrl, testSettings6())
		env.backend.EXPECT().GetDUID().Return(nil)
		env.backend.EXPECT().StartIPv6("", linkLocal, PrivacyDisabled, uint(0)).Return(errors.New("foo"))
		env.do(t, func() {
			require.Error(t, env.client.StartIPv6(supplied, false, "", linkLocal, PrivacyDisabled, 0))
			require.Nil(t, env.client.DUID())
			require.Equal(t, StateUnknown, env.client.State())
		})
	})
}

// Test setting the client identifier.
func TestSetClientID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())

	env.do(t, func() {
		require.Error(t, env.client.SetClientID([]byte{1}))
		require.NoError(t, env.client.SetClientIDBin(0xff, []byte{1, 2}))
		require.Equal(t, []byte{0xff, 1, 2}, env.client.ClientID())
		require.Error(t, env.client.SetClientIDBin(1, nil))
		require.NoError(t, env.client.SetClientID(nil))
		require.Nil(t, env.client.ClientID())
	})
}

// Test the client identifier derived from the hardware address.
func TestClientIDFromHWAddr(t *testing.T) {
	require.Equal(t, []byte{1, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		ClientIDFromHWAddr(net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}))
	require.Nil(t, ClientIDFromHWAddr(nil))
}

// Test that accept and decline require the bound state.
func TestAcceptDecline(t *testing.T) {
	// Arrange
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	env.start4(t)
	env.backend.EXPECT().Accept().Return(nil)
	env.backend.EXPECT().Decline("address in use").Return(ErrUnsupported)

	env.do(t, func() {
		// Act & Assert
		require.ErrorIs(t, env.client.Accept(), ErrInvalidState)
		require.ErrorIs(t, env.client.Decline("address in use"), ErrInvalidState)

		require.NoError(t, env.client.ApplyLease(StateBound, testOptions4()))
		require.NoError(t, env.client.Accept())
		require.ErrorIs(t, env.client.Decline("address in use"), ErrUnsupported)
	})
}

// Test that stop terminates the client once.
func TestStopIdempotent(t *testing.T) {
	// Arrange
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	env.start4(t)
	env.backend.EXPECT().Stop(true).Times(1)

	env.do(t, func() {
		// Act
		env.client.Stop(true)
		env.client.Stop(true)
		env.client.Stop(false)

		// Assert
		require.Equal(t, StateTerminated, env.client.State())
		require.False(t, env.client.TimeoutArmed())
	})
	require.Equal(t, []State{StateTerminated}, env.recorder.states())
}

// Test the rules of setting the state.
func TestSetState(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	config := &ipconfig.Config{Family: ipconfig.FamilyIPv4}

	env.do(t, func() {
		c := env.client
		// Bound requires the configuration.
		require.ErrorIs(t, c.SetState(StateBound, nil, nil), ErrInvalidTransition)
		// Other states must not carry it.
		require.ErrorIs(t, c.SetState(StateFail, config, nil), ErrInvalidTransition)
		require.ErrorIs(t, c.SetState(StateFail, nil, map[string]string{"a": "b"}), ErrInvalidTransition)
		// Unknown -> expire is illegal.
		require.ErrorIs(t, c.SetState(StateExpire, nil, nil), ErrInvalidTransition)

		require.NoError(t, c.SetState(StateBound, config, map[string]string{"ip_address": "192.0.2.1"}))
		require.Equal(t, config, c.IPConfig())
		require.Equal(t, "192.0.2.1", c.Options()["ip_address"])

		require.NoError(t, c.SetState(StateExpire, nil, nil))
		require.Nil(t, c.IPConfig())
		require.Nil(t, c.Options())
		// Same non-bound state is a no-op.
		require.NoError(t, c.SetState(StateExpire, nil, nil))
		require.ErrorIs(t, c.SetState(StateBound, config, nil), ErrInvalidTransition)
	})
	require.Equal(t, []State{StateBound, StateExpire}, env.recorder.states())
}

// Test that the terminated state is absorbing.
func TestTerminatedIsAbsorbing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings6())
	env.backend.EXPECT().Stop(false)

	env.do(t, func() {
		c := env.client
		c.Stop(false)
		for _, state := range []State{StateUnknown, StateTimeout, StateDone, StateExpire, StateFail} {
			require.ErrorIs(t, c.SetState(state, nil, nil), ErrInvalidTransition)
		}
		require.NoError(t, c.SetState(StateTerminated, nil, nil))
		require.Error(t, c.ApplyLease(StateBound, map[string]string{
			"ip6_address": "2001:db8::1",
			"ip6_prefix":  "2001:db8:1::/56",
		}))
		require.ErrorIs(t, c.EmitPrefixDelegated(&ipconfig.Prefix{}), ErrInvalidState)
		require.Equal(t, StateTerminated, c.State())
	})
	require.Equal(t, []State{StateTerminated}, env.recorder.states())
	require.Len(t, env.recorder.get(), 1)
}

// Test applying the valid IPv4 lease.
func TestApplyLease4(t *testing.T) {
	// Arrange
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	env.start4(t)

	env.do(t, func() {
		// Act
		err := env.client.ApplyLease(StateBound, testOptions4())

		// Assert
		require.NoError(t, err)
		require.Equal(t, StateBound, env.client.State())
		require.False(t, env.client.TimeoutArmed())
		require.Equal(t, "192.0.2.10/24", env.client.IPConfig().Addresses[0].Prefix.String())
		require.Equal(t, "192.0.2.10", env.client.Options()["ip_address"])
	})

	notifications := env.recorder.get()
	require.Len(t, notifications, 1)
	require.Equal(t, NotificationStateChanged, notifications[0].Kind)
	require.Equal(t, StateBound, notifications[0].State)
	require.Equal(t, env.client, notifications[0].Client)
	require.Equal(t, "192.0.2.1", notifications[0].Config.Gateway.String())
	require.Equal(t, "3600", notifications[0].Options["dhcp_lease_time"])
}

// Test that the bound lease without the address fails the client.
func TestApplyLeaseInvalidOptions(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	env.start4(t)

	env.do(t, func() {
		require.NoError(t, env.client.ApplyLease(StateBound, map[string]string{"new_routers": "192.0.2.1"}))
		require.Equal(t, StateFail, env.client.State())
		require.False(t, env.client.TimeoutArmed())
	})
	require.Equal(t, []State{StateFail}, env.recorder.states())
}

// Test that the IPv6 lease with the address and the delegated prefix
// yields both notifications.
func TestApplyLease6WithPrefix(t *testing.T) {
	// Arrange
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings6())
	env.backend.EXPECT().GetDUID().Return(nil)
	env.backend.EXPECT().StartIPv6("", netip.Addr{}, PrivacyDisabled, uint(1)).Return(nil)

	env.do(t, func() {
		require.NoError(t, env.client.StartIPv6([]byte{0, 3, 0, 1, 1, 2, 3, 4, 5, 6}, false, "", netip.Addr{}, PrivacyDisabled, 1))

		// Act
		err := env.client.ApplyLease(StateBound, map[string]string{
			"new_ip6_address":    "2001:db8::5",
			"new_ip6_prefix":     "2001:db8:1::/56",
			"new_max_life":       "7200",
			"new_preferred_life": "3600",
		})

		// Assert
		require.NoError(t, err)
	})

	notifications := env.recorder.get()
	require.Len(t, notifications, 2)
	require.Equal(t, NotificationPrefixDelegated, notifications[0].Kind)
	require.Equal(t, "2001:db8:1::/56", notifications[0].Prefix.Prefix.String())
	require.Equal(t, 2*time.Hour, notifications[0].Prefix.Lifetime)
	require.Equal(t, NotificationStateChanged, notifications[1].Kind)
	require.Equal(t, StateBound, notifications[1].State)
	require.Equal(t, "2001:db8::5/128", notifications[1].Config.Addresses[0].Prefix.String())
}

// Test that the prefix-only IPv6 lease does not change the state.
func TestApplyLease6PrefixOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings6())

	env.do(t, func() {
		require.NoError(t, env.client.ApplyLease(StateBound, map[string]string{
			"new_ip6_prefix": "2001:db8:1::/56",
		}))
		require.Equal(t, StateUnknown, env.client.State())
	})

	notifications := env.recorder.get()
	require.Len(t, notifications, 1)
	require.Equal(t, NotificationPrefixDelegated, notifications[0].Kind)
}

// Test that the prefix delegation is rejected on the IPv4 client.
func TestEmitPrefixDelegatedIPv4(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())

	env.do(t, func() {
		err := env.client.EmitPrefixDelegated(&ipconfig.Prefix{Prefix: netip.MustParsePrefix("2001:db8::/56")})
		require.ErrorIs(t, err, ErrUnsupported)
	})
	require.Empty(t, env.recorder.get())
}

// Test that the observers added later receive the notifications too.
func TestAddObserver(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	env := newTestClientEnv(t, ctrl, testSettings4())
	var kinds []NotificationKind
	env.backend.EXPECT().Stop(false)

	env.do(t, func() {
		env.client.AddObserver(ObserverFunc(func(n Notification) {
			kinds = append(kinds, n.Kind)
		}))
		env.client.Stop(false)
	})

	require.Equal(t, []NotificationKind{NotificationStateChanged}, kinds)
	require.Equal(t, "state-changed", kinds[0].String())
	require.Equal(t, "prefix-delegated", NotificationPrefixDelegated.String())
}

// Minimal configuration of the bound state.
var testConfig = ipconfig.Config{Family: ipconfig.FamilyIPv4}
