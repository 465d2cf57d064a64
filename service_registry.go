package calcmq

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

const (
	RegistryFileName = "calcmq_brokers.json"
	DiscoveryTimeout = 5 * time.Second

	discoveryPollInterval = 100 * time.Millisecond
)

// ServiceInfo is one registry entry
type ServiceInfo struct {
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
}

// ServiceRegistry maps broker service ids to ports through a JSON file that
// every process on the host reads. The file is re-read on every call, so
// registrations made by other processes are always visible.
type ServiceRegistry struct {
	path string

	// mu serializes read-modify-write cycles within this process
	mu sync.Mutex
}

// NewServiceRegistry creates a registry backed by path. An empty path selects
// DefaultRegistryPath.
func NewServiceRegistry(path string) *ServiceRegistry {
	if path == "" {
		path = DefaultRegistryPath()
	}
	return &ServiceRegistry{path: path}
}

// DefaultRegistryPath returns the registry file in the OS temp directory
func DefaultRegistryPath() string {
	return filepath.Join(os.TempDir(), RegistryFileName)
}

// Path returns the registry file path
func (r *ServiceRegistry) Path() string {
	return r.path
}

func (r *ServiceRegistry) read() (map[string]ServiceInfo, error) {
	services := make(map[string]ServiceInfo)

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return services, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return services, nil
	}

	if err := json.Unmarshal(data, &services); err != nil {
		return nil, fmt.Errorf("corrupt registry %s: %w", r.path, err)
	}
	return services, nil
}

// write replaces the registry file in one rename so readers never see a
// partial file
func (r *ServiceRegistry) write(services map[string]ServiceInfo) error {
	data, err := json.MarshalIndent(services, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), RegistryFileName+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}

func (r *ServiceRegistry) update(fn func(services map[string]ServiceInfo)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	services, err := r.read()
	if err != nil {
		return err
	}
	fn(services)
	return r.write(services)
}

// Register records serviceID as listening on port in the current process
func (r *ServiceRegistry) Register(serviceID string, port int) error {
	if err := ValidatePort(port); err != nil {
		return err
	}

	return r.update(func(services map[string]ServiceInfo) {
		services[serviceID] = ServiceInfo{
			Port:      port,
			PID:       os.Getpid(),
			StartTime: time.Now(),
		}
	})
}

// Unregister removes serviceID from the registry
func (r *ServiceRegistry) Unregister(serviceID string) error {
	return r.update(func(services map[string]ServiceInfo) {
		delete(services, serviceID)
	})
}

// Discover waits up to timeout for serviceID to be registered by a live
// process and returns its port. Entries left behind by dead processes are
// removed. A zero timeout selects DiscoveryTimeout.
func (r *ServiceRegistry) Discover(serviceID string, timeout time.Duration) (int, error) {
	if timeout == 0 {
		timeout = DiscoveryTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		if services, err := r.read(); err == nil {
			if info, ok := services[serviceID]; ok {
				if isProcessAlive(info.PID) {
					return info.Port, nil
				}
				_ = r.Unregister(serviceID)
			}
		}

		if time.Until(deadline) < discoveryPollInterval {
			break
		}
		time.Sleep(discoveryPollInterval)
	}

	time.Sleep(time.Until(deadline))
	return 0, newServiceNotFoundError(serviceID)
}

// isProcessAlive reports whether pid names a running process
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks that the process exists
	return proc.Signal(syscall.Signal(0)) == nil
}

// List returns every registered service
func (r *ServiceRegistry) List() (map[string]ServiceInfo, error) {
	return r.read()
}

// Clear removes every registration
func (r *ServiceRegistry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.write(make(map[string]ServiceInfo))
}

// ValidatePort checks that port is an unprivileged TCP port
func ValidatePort(port int) error {
	if port < 1024 || port > 65535 {
		return fmt.Errorf("port %d out of valid range (1024-65535)", port)
	}
	return nil
}
