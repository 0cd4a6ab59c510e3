// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smm

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"github.com/u-root/cmoskit/pkg/portio"
)

type fakeDispatcher struct {
	refuse error
	next   DispatchHandle
	cbs    map[DispatchHandle]Callback
	ctxs   map[DispatchHandle]interface{}
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		cbs:  make(map[DispatchHandle]Callback),
		ctxs: make(map[DispatchHandle]interface{}),
	}
}

func (d *fakeDispatcher) Register(t Trigger, cb Callback, context interface{}) (DispatchHandle, error) {
	if d.refuse != nil {
		return 0, d.refuse
	}
	d.next++
	d.cbs[d.next] = cb
	d.ctxs[d.next] = context
	return d.next, nil
}

func (d *fakeDispatcher) Unregister(h DispatchHandle) error {
	if _, ok := d.cbs[h]; !ok {
		return ErrNotFound
	}
	delete(d.cbs, h)
	return nil
}

func (d *fakeDispatcher) fire(h DispatchHandle) error {
	return d.cbs[h](h, d.ctxs[h], nil)
}

type fakeHost struct {
	inSmm    bool
	inSmmErr error
	d        *fakeDispatcher
	locates  int
}

func (h *fakeHost) InSmm() (bool, error) { return h.inSmm, h.inSmmErr }

func (h *fakeHost) LocateDispatcher(TriggerKind) (Dispatcher, error) {
	h.locates++
	if h.d == nil {
		return nil, ErrNotFound
	}
	return h.d, nil
}

func (h *fakeHost) LocateIO() (portio.Transport, error) { return nil, ErrNotFound }

var swsmi = SoftwareTrigger(0xC2)

func nop(DispatchHandle, interface{}, []byte) error { return nil }

func TestDetect(t *testing.T) {
	for _, tt := range []struct {
		name string
		host *fakeHost
		want Context
		err  bool
	}{
		{name: "boot services", host: &fakeHost{}, want: BootServices},
		{name: "smm", host: &fakeHost{inSmm: true}, want: Privileged},
		{name: "error", host: &fakeHost{inSmmErr: errors.New("no SMM base")}, err: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(tt.host)
			if (err != nil) != tt.err {
				t.Fatalf("Detect() = %v, want error %v", err, tt.err)
			}
			if got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewRegistryContextError(t *testing.T) {
	boom := errors.New("no SMM base")
	_, err := NewRegistry(&fakeHost{inSmmErr: boom})
	require.ErrorIs(t, err, boom)
}

func TestRegisterOutsideSmm(t *testing.T) {
	h := &fakeHost{d: newFakeDispatcher()}
	r, err := NewRegistry(h)
	require.NoError(t, err)
	require.False(t, r.Privileged())

	handle, err := r.RegisterCallback(swsmi, nop, nil)
	require.NoError(t, err)
	require.Zero(t, handle)
	require.Zero(t, h.locates, "dispatcher located outside SMM")
	require.Empty(t, r.Registrations())
	require.Equal(t, Unregistered, r.State(swsmi))
}

func TestRegisterOnce(t *testing.T) {
	d := newFakeDispatcher()
	r, err := NewRegistry(&fakeHost{inSmm: true, d: d}, WithName("test"))
	require.NoError(t, err)

	handle, err := r.RegisterCallback(swsmi, nop, "ctx")
	require.NoError(t, err)
	require.NotZero(t, handle)
	require.Equal(t, Registered, r.State(swsmi))

	_, err = r.RegisterCallback(swsmi, nop, nil)
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	require.Len(t, d.cbs, 1)

	// A different trigger is a different registration.
	pb := PowerButtonTrigger(PowerButtonEntry)
	_, err = r.RegisterCallback(pb, nop, nil)
	require.NoError(t, err)

	regs := r.Registrations()
	require.Len(t, regs, 2)
	if diff := cmp.Diff(map[DispatchHandle]interface{}{1: "ctx", 2: nil}, d.ctxs); diff != "" {
		t.Errorf("contexts (-want +got):\n%s", diff)
	}
}

func TestRegisterFailures(t *testing.T) {
	refused := errors.New("table full")
	for _, tt := range []struct {
		name string
		host *fakeHost
		want error
	}{
		{name: "no dispatcher", host: &fakeHost{inSmm: true}, want: ErrDispatcherUnavailable},
		{name: "refused", host: &fakeHost{inSmm: true, d: &fakeDispatcher{refuse: refused}}, want: refused},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(tt.host)
			require.NoError(t, err)
			_, err = r.RegisterCallback(swsmi, nop, nil)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, Unregistered, r.State(swsmi))
			require.Empty(t, r.Registrations())
		})
	}
}

func TestDispatchState(t *testing.T) {
	d := newFakeDispatcher()
	r, err := NewRegistry(&fakeHost{inSmm: true, d: d})
	require.NoError(t, err)

	var inside State
	h, err := r.RegisterCallback(swsmi, func(DispatchHandle, interface{}, []byte) error {
		inside = r.State(swsmi)
		return nil
	}, nil)
	require.NoError(t, err)
	require.NoError(t, d.fire(h))
	require.Equal(t, Dispatching, inside)
	require.Equal(t, Registered, r.State(swsmi))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	// A second set shares the collectors.
	m2, err := NewMetrics(reg)
	require.NoError(t, err)
	require.Same(t, m.Dispatches, m2.Dispatches)

	d := newFakeDispatcher()
	r, err := NewRegistry(&fakeHost{inSmm: true, d: d}, WithName("drv"), WithMetrics(m))
	require.NoError(t, err)
	fail := true
	h, err := r.RegisterCallback(swsmi, func(DispatchHandle, interface{}, []byte) error {
		if fail {
			return errors.New("device busy")
		}
		return nil
	}, nil)
	require.NoError(t, err)

	require.Error(t, d.fire(h))
	fail = false
	require.NoError(t, d.fire(h))

	require.Equal(t, 2.0, testutil.ToFloat64(m.Dispatches.WithLabelValues("drv", "software/0xc2")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("drv", "software/0xc2")))
	require.Equal(t, 1, testutil.CollectAndCount(m.Duration))
}

func TestDispatchDuration(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	clk := clock.NewFake()
	d := newFakeDispatcher()
	r, err := NewRegistry(&fakeHost{inSmm: true, d: d}, WithName("drv"), WithMetrics(m), WithClock(clk))
	require.NoError(t, err)
	h, err := r.RegisterCallback(swsmi, func(DispatchHandle, interface{}, []byte) error {
		clk.Add(3 * time.Millisecond)
		return nil
	}, nil)
	require.NoError(t, err)
	require.NoError(t, d.fire(h))
	require.NoError(t, d.fire(h))

	var pb dto.Metric
	obs := m.Duration.WithLabelValues("drv", "software/0xc2")
	require.NoError(t, obs.(prometheus.Metric).Write(&pb))
	require.Equal(t, uint64(2), pb.GetHistogram().GetSampleCount())
	require.InDelta(t, 0.006, pb.GetHistogram().GetSampleSum(), 1e-9)
}

func TestUnregisterAndClose(t *testing.T) {
	d := newFakeDispatcher()
	r, err := NewRegistry(&fakeHost{inSmm: true, d: d})
	require.NoError(t, err)
	pb := PowerButtonTrigger(PowerButtonEntry)
	for _, tr := range []Trigger{swsmi, pb} {
		_, err := r.RegisterCallback(tr, nop, nil)
		require.NoError(t, err)
	}

	require.NoError(t, r.Unregister(swsmi))
	require.ErrorIs(t, r.Unregister(swsmi), ErrNotFound)
	require.Len(t, d.cbs, 1)

	// Registering again after teardown is allowed.
	_, err = r.RegisterCallback(swsmi, nop, nil)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.Empty(t, d.cbs)
	require.Empty(t, r.Registrations())
	require.NoError(t, r.Close())
}

func TestTriggerString(t *testing.T) {
	for _, tt := range []struct {
		t    Trigger
		want string
	}{
		{SoftwareTrigger(0xC2), "software/0xc2"},
		{PowerButtonTrigger(PowerButtonEntry), "power-button/entry"},
		{PowerButtonTrigger(PowerButtonExit), "power-button/exit"},
	} {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("%#v.String() = %q, want %q", tt.t, got, tt.want)
		}
	}
	if SoftwareTrigger(0xC2) == SoftwareTrigger(0xC3) {
		t.Error("software triggers with different codes compare equal")
	}
}
