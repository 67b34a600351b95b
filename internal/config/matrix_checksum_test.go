package config

import "testing"

func twoRuntimeConfig() *Config {
	return &Config{
		Harness: HarnessConfig{Timeout: 60},
		Runtimes: map[string]*RuntimeConfig{
			"17": {Java: "/jdk17/bin/java", Collectors: []string{"SerialGC", "G1GC"}},
			"11": {Java: "/jdk11/bin/java", Collectors: []string{"SerialGC", "ShenandoahGC"}},
		},
	}
}

func TestMatrixChecksum_DeterministicAcrossMapOrder(t *testing.T) {
	cfg1 := twoRuntimeConfig()
	cfg2 := &Config{
		Harness: HarnessConfig{Timeout: 60},
		// Same runtimes but inserted in opposite order.
		Runtimes: map[string]*RuntimeConfig{
			"11": cfg1.Runtimes["11"],
			"17": cfg1.Runtimes["17"],
		},
	}

	s1, err := MatrixChecksum(cfg1)
	if err != nil {
		t.Fatalf("MatrixChecksum(cfg1): %v", err)
	}
	s2, err := MatrixChecksum(cfg2)
	if err != nil {
		t.Fatalf("MatrixChecksum(cfg2): %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected same checksum, got %q vs %q", s1, s2)
	}
	if len(s1) != 6 {
		t.Fatalf("expected 6-char checksum, got %q (len=%d)", s1, len(s1))
	}
}

func TestMatrixChecksum_ChangesWhenMatrixChanges(t *testing.T) {
	cfg := twoRuntimeConfig()
	s1, err := MatrixChecksum(cfg)
	if err != nil {
		t.Fatalf("MatrixChecksum: %v", err)
	}

	cfg.Runtimes["17"].Flags = map[string][]string{"G1GC": {"-XX:+UseG1GC", "-XX:MaxGCPauseMillis=50"}}
	s2, err := MatrixChecksum(cfg)
	if err != nil {
		t.Fatalf("MatrixChecksum: %v", err)
	}
	if s1 == s2 {
		t.Fatalf("expected checksum to change after flag override, both %q", s1)
	}

	cfg.Harness.Timeout = 120
	s3, err := MatrixChecksum(cfg)
	if err != nil {
		t.Fatalf("MatrixChecksum: %v", err)
	}
	if s3 == s2 {
		t.Fatalf("expected checksum to change after timeout change, both %q", s2)
	}
}
