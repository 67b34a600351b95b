package host

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"gc-diffbench/internal/logging"

	"github.com/sirupsen/logrus"
)

// HostConfig describes the machine a run executed on. It is recorded in the
// report header so timings from different hosts are not compared blindly.
type HostConfig struct {
	CPUVendor     string `json:"cpu_vendor"`
	CPUModel      string `json:"cpu_model"`
	TotalThreads  int    `json:"total_threads"`
	NumSockets    int    `json:"num_sockets"`
	MemTotalMB    int64  `json:"mem_total_mb"`
	Hostname      string `json:"hostname"`
	OSInfo        string `json:"os"`
	KernelVersion string `json:"kernel_version"`
}

var (
	globalHostConfig *HostConfig
	hostConfigErr    error
	hostConfigOnce   sync.Once
)

// GetHostConfig returns the global host configuration
// It initializes the configuration on first call
func GetHostConfig() (*HostConfig, error) {
	hostConfigOnce.Do(func() {
		globalHostConfig, hostConfigErr = initializeHostConfig()
	})
	return globalHostConfig, hostConfigErr
}

func initializeHostConfig() (*HostConfig, error) {
	logger := logging.GetLogger()

	config := &HostConfig{}
	if err := config.initSystemInfo(); err != nil {
		return nil, fmt.Errorf("failed to initialize system info: %w", err)
	}
	config.initCPUInfo("/proc/cpuinfo")
	config.initMemInfo("/proc/meminfo")

	logger.WithFields(logrus.Fields{
		"cpu_model":     config.CPUModel,
		"total_threads": config.TotalThreads,
		"mem_total_mb":  config.MemTotalMB,
		"kernel":        config.KernelVersion,
	}).Info("Host configuration initialized")

	return config, nil
}

func (hc *HostConfig) initSystemInfo() error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}
	hc.Hostname = hostname
	hc.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	if data, err := os.ReadFile("/proc/version"); err == nil {
		version := strings.Fields(string(data))
		if len(version) >= 3 {
			hc.KernelVersion = version[2]
		}
	}
	if hc.KernelVersion == "" {
		hc.KernelVersion = "unknown"
	}
	return nil
}

func (hc *HostConfig) initCPUInfo(path string) {
	hc.TotalThreads = runtime.NumCPU()
	hc.CPUVendor = "unknown"
	hc.CPUModel = "unknown"
	hc.NumSockets = 1

	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	sockets := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "vendor_id":
			if hc.CPUVendor == "unknown" {
				hc.CPUVendor = value
			}
		case "model name":
			if hc.CPUModel == "unknown" {
				hc.CPUModel = value
			}
		case "physical id":
			sockets[value] = true
		}
	}
	if len(sockets) > 0 {
		hc.NumSockets = len(sockets)
	}
}

func (hc *HostConfig) initMemInfo(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			var kb int64
			if _, err := fmt.Sscan(fields[1], &kb); err == nil {
				hc.MemTotalMB = kb / 1024
			}
			return
		}
	}
}
