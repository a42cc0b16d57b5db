package main

import (
	"errors"
	"net"
	"testing"

	"github.com/proxyworks/tunelo/internal/logging"
)

type fakeListener struct {
	startErr error
	stopErr  error
	started  bool
	stopped  bool
}

func (f *fakeListener) Start() error {
	f.started = true
	return f.startErr
}

func (f *fakeListener) Stop() error {
	f.stopped = true
	return f.stopErr
}

func (f *fakeListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1080}
}

func TestStartAll_AllSucceed(t *testing.T) {
	a, b := &fakeListener{}, &fakeListener{}
	if err := startAll([]listener{a, b}, logging.NopLogger()); err != nil {
		t.Fatalf("startAll() error = %v", err)
	}
	if !a.started || !b.started {
		t.Error("startAll() did not start every listener")
	}
}

func TestStartAll_PropagatesError(t *testing.T) {
	ok := &fakeListener{}
	failing := &fakeListener{startErr: errors.New("bind failed")}
	if err := startAll([]listener{ok, failing}, logging.NopLogger()); err == nil {
		t.Error("startAll() error = nil, want the failing listener's error")
	}
}

func TestStopAll_AllSucceed(t *testing.T) {
	a, b := &fakeListener{}, &fakeListener{}
	if err := stopAll([]listener{a, b}, logging.NopLogger()); err != nil {
		t.Fatalf("stopAll() error = %v", err)
	}
	if !a.stopped || !b.stopped {
		t.Error("stopAll() did not stop every listener")
	}
}

func TestStopAll_PropagatesError(t *testing.T) {
	ok := &fakeListener{}
	failing := &fakeListener{stopErr: errors.New("already closed")}
	if err := stopAll([]listener{ok, failing}, logging.NopLogger()); err == nil {
		t.Error("stopAll() error = nil, want the failing listener's error")
	}
}
