package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSamplerReadsOwnProcess(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Interval: 20 * time.Millisecond, HistorySize: 8}, os.Getpid)
	if err := s.RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := s.Latest(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no sample taken within deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()

	sm, ok := s.Latest()
	if !ok {
		t.Fatal("expected a sample after stop")
	}
	if sm.PID != os.Getpid() {
		t.Fatalf("sample pid = %d, want %d", sm.PID, os.Getpid())
	}
	if sm.MemoryRSS == 0 {
		t.Fatal("expected nonzero RSS for own process")
	}
}

func TestSamplerDisabledIsInert(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: false}, os.Getpid)
	s.Start(context.Background())
	s.Stop()
	if _, ok := s.Latest(); ok {
		t.Fatal("disabled sampler should record nothing")
	}
	if s.Enabled() {
		t.Fatal("Enabled() should be false")
	}
}

func TestSamplerHistoryWrapsInOrder(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, HistorySize: 4}, func() int { return 0 })
	for i := 1; i <= 6; i++ {
		s.append(Sample{PID: i})
	}
	hist := s.History()
	if len(hist) != 4 {
		t.Fatalf("history length = %d, want 4", len(hist))
	}
	for i, want := range []int{3, 4, 5, 6} {
		if hist[i].PID != want {
			t.Fatalf("history[%d].PID = %d, want %d", i, hist[i].PID, want)
		}
	}
	latest, ok := s.Latest()
	if !ok || latest.PID != 6 {
		t.Fatalf("latest = %+v ok=%v, want PID 6", latest, ok)
	}
}

func TestSamplerNoWorkerClearsGauges(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, HistorySize: 4}, func() int { return 0 })
	s.sampleOnce()
	if _, ok := s.Latest(); ok {
		t.Fatal("no sample should be recorded without a worker")
	}
}
