// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package gateway

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestQueue(t *testing.T) {
	q := newQueue()
	var got []int
	var panics int

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.run(func(any) { panics++ })
	}()

	for i := range 10 {
		q.push(func() { got = append(got, i) })
		if i == 4 {
			q.push(func() { panic("boom") })
		}
	}
	q.close()
	q.push(func() { t.Error("Item pushed after close was delivered") })
	wg.Wait()

	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got); diff != "" {
		t.Errorf("Delivery order (-want, +got):\n%s", diff)
	}
	if panics != 1 {
		t.Errorf("Recovered %d panics, want 1", panics)
	}
}

func TestCloseStatusFor(t *testing.T) {
	c := Classifier{}
	tests := []struct {
		d    Decision
		want int
	}{
		{c.Classify(CloseStatus{}, OriginLogout), CloseNormal},
		{c.Classify(CloseStatus{}, OriginInvalidSession), CloseNormal},
		{c.Classify(Abnormal, OriginTransport), 4000},
		{c.Classify(CloseStatus{Code: 4009}, OriginRemote), CloseNormal},
	}
	for _, tc := range tests {
		if got := closeStatusFor(tc.d); got.Code != tc.want {
			t.Errorf("closeStatusFor(%v): got %v, want code %d", tc.d, got, tc.want)
		}
	}
}
