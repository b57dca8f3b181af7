package config

import "testing"

func TestFromOptionsLegacyAutoApproveFallback(t *testing.T) {
	enabled := true
	cfg, err := FromOptions(Options{AutoApproveEnabled: &enabled})
	if err != nil {
		t.Fatalf("FromOptions() error = %v", err)
	}
	if cfg.AutoApproveMode != AutoApproveAI {
		t.Fatalf("AutoApproveMode = %q, want %q", cfg.AutoApproveMode, AutoApproveAI)
	}

	disabled := false
	cfg, err = FromOptions(Options{AutoApproveEnabled: &disabled})
	if err != nil {
		t.Fatalf("FromOptions() error = %v", err)
	}
	if cfg.AutoApproveMode != AutoApproveOff {
		t.Fatalf("AutoApproveMode = %q, want %q", cfg.AutoApproveMode, AutoApproveOff)
	}
}

func TestFromOptionsModeTakesPrecedenceOverLegacy(t *testing.T) {
	disabled := false
	cfg, err := FromOptions(Options{AutoApproveMode: "hybrid", AutoApproveEnabled: &disabled})
	if err != nil {
		t.Fatalf("FromOptions() error = %v", err)
	}
	if cfg.AutoApproveMode != AutoApproveHybrid {
		t.Fatalf("AutoApproveMode = %q, want %q", cfg.AutoApproveMode, AutoApproveHybrid)
	}
}

func TestFromOptionsRejectsInvalidMode(t *testing.T) {
	if _, err := FromOptions(Options{AutoApproveMode: "bogus"}); err == nil {
		t.Fatal("expected error for invalid auto_approve.mode")
	}
}

func TestFromOptionsRejectsNegativeDurations(t *testing.T) {
	if _, err := FromOptions(Options{PollIntervalMs: -1}); err == nil {
		t.Fatal("expected error for negative poll_interval_ms")
	}
}

func TestDefaultConfigThresholds(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PollInterval.Milliseconds() != 500 {
		t.Errorf("PollInterval = %v, want 500ms", cfg.PollInterval)
	}
	if cfg.OutputSilenceToIdle.Milliseconds() != 200 {
		t.Errorf("OutputSilenceToIdle = %v, want 200ms", cfg.OutputSilenceToIdle)
	}
	if cfg.ApprovalDebounce.Milliseconds() != 500 {
		t.Errorf("ApprovalDebounce = %v, want 500ms", cfg.ApprovalDebounce)
	}
	if cfg.EchoGracePeriod.Milliseconds() != 300 {
		t.Errorf("EchoGracePeriod = %v, want 300ms", cfg.EchoGracePeriod)
	}
	if cfg.IPCReconnectBackoffMax.Seconds() != 2 {
		t.Errorf("IPCReconnectBackoffMax = %v, want 2s", cfg.IPCReconnectBackoffMax)
	}
	if cfg.UserInputDebounce.Seconds() != 5 {
		t.Errorf("UserInputDebounce = %v, want 5s", cfg.UserInputDebounce)
	}
	if cfg.AIJudge.TimeoutSecs != 30 {
		t.Errorf("AIJudge.TimeoutSecs = %d, want 30", cfg.AIJudge.TimeoutSecs)
	}
}
