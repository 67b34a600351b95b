package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
)

type matrixChecksumEntry struct {
	Runtime   string   `json:"runtime"`
	Collector string   `json:"collector"`
	Flags     []string `json:"flags"`
	JVMArgs   []string `json:"jvm_args,omitempty"`
}

type matrixChecksumPayload struct {
	TimeoutS int                   `json:"timeout_s"`
	Cells    []matrixChecksumEntry `json:"cells"`
}

// MatrixChecksum returns a short, stable checksum identifying the effective
// environment matrix. A report is only resumed under the same checksum.
//
// It computes MD5 over a canonical JSON representation and returns the first 6 hex
// characters (equivalent to `md5sum | cut -c1-6`).
func MatrixChecksum(cfg *Config) (string, error) {
	if cfg == nil {
		return "", nil
	}

	var entries []matrixChecksumEntry
	for _, e := range cfg.Matrix() {
		entries = append(entries, matrixChecksumEntry{
			Runtime:   e.Runtime,
			Collector: string(e.Collector),
			Flags:     e.Flags,
			JVMArgs:   cfg.Runtimes[e.Runtime].JVMArgs,
		})
	}

	payload := matrixChecksumPayload{TimeoutS: cfg.Harness.Timeout, Cells: entries}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
