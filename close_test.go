// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package gateway_test

import (
	"errors"
	"testing"

	"github.com/creachadair/gateway"
	"github.com/creachadair/gateway/closecode"
)

func TestClassify(t *testing.T) {
	var c gateway.Classifier
	st := func(code int) gateway.CloseStatus { return gateway.CloseStatus{Code: code} }

	tests := []struct {
		status gateway.CloseStatus
		origin gateway.Origin
		want   gateway.Behavior
		keep   bool
		cause  error
	}{
		{st(4000), gateway.OriginRemote, gateway.RetryAbruptly, true, nil},
		{st(4008), gateway.OriginRemote, gateway.RetryAbruptly, true, nil},
		{st(4999), gateway.OriginRemote, gateway.RetryAbruptly, true, nil},
		{st(4007), gateway.OriginRemote, gateway.Retry, false, nil},
		{st(4009), gateway.OriginRemote, gateway.Retry, false, nil},
		{st(1000), gateway.OriginRemote, gateway.Retry, false, nil},
		{st(4004), gateway.OriginRemote, gateway.Stop, false, nil},
		{st(4014), gateway.OriginRemote, gateway.Stop, false, nil},
		{gateway.Abnormal, gateway.OriginTransport, gateway.Retry, true, gateway.ErrConnectionLost},
		{gateway.CloseStatus{}, gateway.OriginReconnectRequest, gateway.RetryAbruptly, true, gateway.ErrReconnect},
		{gateway.CloseStatus{}, gateway.OriginZombie, gateway.RetryAbruptly, true, gateway.ErrZombie},
		{gateway.CloseStatus{}, gateway.OriginInvalidSession, gateway.Retry, false, gateway.ErrInvalidSession},
		{gateway.CloseStatus{}, gateway.OriginLogout, gateway.Stop, false, nil},
		{gateway.CloseStatus{}, gateway.OriginLogoutResumable, gateway.StopAbruptly, true, nil},
	}
	for _, tc := range tests {
		d := c.Classify(tc.status, tc.origin)
		if d.Behavior != tc.want || d.KeepSession != tc.keep {
			t.Errorf("Classify(%v, %v): got %v keep=%v, want %v keep=%v",
				tc.status, tc.origin, d.Behavior, d.KeepSession, tc.want, tc.keep)
		}
		if tc.cause != nil && !errors.Is(d.Cause, tc.cause) {
			t.Errorf("Classify(%v, %v): got cause %v, want %v", tc.status, tc.origin, d.Cause, tc.cause)
		}
		if d.Origin != tc.origin {
			t.Errorf("Classify(%v, %v): got origin %v", tc.status, tc.origin, d.Origin)
		}
	}
}

func TestClassifyCauses(t *testing.T) {
	var c gateway.Classifier

	d := c.Classify(gateway.CloseStatus{Code: 4004, Reason: "bad token"}, gateway.OriginRemote)
	var fe *gateway.FatalError
	if !errors.As(d.Cause, &fe) {
		t.Fatalf("Cause: got %v, want *FatalError", d.Cause)
	}
	if fe.Status.Code != 4004 || fe.Description != "authentication failed" {
		t.Errorf("FatalError: got %+v", fe)
	}
	t.Logf("Error OK: %v", fe)

	d = c.Classify(gateway.CloseStatus{Code: 4000}, gateway.OriginRemote)
	if st, ok := gateway.CloseStatusOf(d.Cause); !ok || st.Code != 4000 {
		t.Errorf("CloseStatusOf(%v): got %v, %v; want 4000, true", d.Cause, st, ok)
	}

	// A transport failure reports the abnormal status but carries no frame.
	d = c.Classify(gateway.CloseStatus{Code: 4000}, gateway.OriginTransport)
	if d.Status != gateway.Abnormal {
		t.Errorf("Transport status: got %v, want %v", d.Status, gateway.Abnormal)
	}
	if _, ok := gateway.CloseStatusOf(d.Cause); ok {
		t.Errorf("CloseStatusOf(%v) unexpectedly reported a frame", d.Cause)
	}
}

func TestClassifyTable(t *testing.T) {
	tab := closecode.Default().Clone().
		Set(closecode.Fatal, 4000).
		Set(closecode.Resumable, 4004).
		SetFallback(closecode.Reidentify)
	c := gateway.Classifier{Table: tab}

	tests := []struct {
		code int
		want gateway.Behavior
	}{
		{4000, gateway.Stop},
		{4004, gateway.RetryAbruptly},
		{4009, gateway.Retry},
		{4321, gateway.Retry},
	}
	for _, tc := range tests {
		if got := c.Classify(gateway.CloseStatus{Code: tc.code}, gateway.OriginRemote); got.Behavior != tc.want {
			t.Errorf("Classify(%d): got %v, want %v", tc.code, got.Behavior, tc.want)
		}
	}
}

func TestBehavior(t *testing.T) {
	tests := []struct {
		b               gateway.Behavior
		retries, abrupt bool
	}{
		{gateway.Retry, true, false},
		{gateway.RetryAbruptly, true, true},
		{gateway.Stop, false, false},
		{gateway.StopAbruptly, false, true},
	}
	for _, tc := range tests {
		if got := tc.b.Retries(); got != tc.retries {
			t.Errorf("%v.Retries(): got %v, want %v", tc.b, got, tc.retries)
		}
		if got := tc.b.Abrupt(); got != tc.abrupt {
			t.Errorf("%v.Abrupt(): got %v, want %v", tc.b, got, tc.abrupt)
		}
	}
	if got := gateway.Behavior(9).String(); got != "Behavior(9)" {
		t.Errorf("String: got %q", got)
	}
}
