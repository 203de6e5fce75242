// Package registry keeps the set of monitored APIs in a YAML file.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ratewatch/ratewatch/internal/core"
)

// DefaultFileName is the registry file created in the data directory.
const DefaultFileName = "apis.yaml"

type fileFormat struct {
	APIs []core.MonitoredAPI `yaml:"apis"`
}

// Registry is an ordered, name-unique collection of MonitoredAPI backed by a file.
type Registry struct {
	mu     sync.RWMutex
	path   string
	apis   []core.MonitoredAPI
	logger core.Logger
	Clock  func() time.Time
}

// Open loads the registry at path. A missing or unreadable file yields an
// empty registry and a logged warning.
func Open(path string, logger core.Logger) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("registry path is required")
	}
	if logger == nil {
		logger = core.NopLogger()
	}

	r := &Registry{path: path, logger: logger}
	apis, err := readFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Debug("registry file not found, starting empty", zap.String("path", path))
	case err != nil:
		logger.Warn("registry file unreadable, starting empty", zap.String("path", path), zap.Error(err))
	default:
		r.apis = r.dedupe(apis)
	}
	return r, nil
}

// Path returns the backing file path.
func (r *Registry) Path() string {
	return r.path
}

// Add registers api. The name must be unused, ignoring case.
func (r *Registry) Add(api core.MonitoredAPI) error {
	api.Name = strings.TrimSpace(api.Name)
	api.Endpoint = strings.TrimSpace(api.Endpoint)
	if api.ThresholdPercent == 0 {
		api.ThresholdPercent = core.DefaultThresholdPercent
	}
	if err := api.Validate(); err != nil {
		return err
	}
	if api.CreatedAt.IsZero() {
		api.CreatedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexLocked(api.Name) >= 0 {
		return fmt.Errorf("%w: %s", core.ErrDuplicateName, api.Name)
	}

	next := append(cloneAll(r.apis), api)
	if err := writeFile(r.path, next); err != nil {
		return err
	}
	r.apis = next
	return nil
}

// Remove deletes the API with the given name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexLocked(name)
	if idx < 0 {
		return fmt.Errorf("%w: %s", core.ErrNotFound, strings.TrimSpace(name))
	}

	next := make([]core.MonitoredAPI, 0, len(r.apis)-1)
	next = append(next, r.apis[:idx]...)
	next = append(next, r.apis[idx+1:]...)
	if err := writeFile(r.path, next); err != nil {
		return err
	}
	r.apis = next
	return nil
}

// Get looks up an API by name, ignoring case.
func (r *Registry) Get(name string) (core.MonitoredAPI, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.indexLocked(name)
	if idx < 0 {
		return core.MonitoredAPI{}, false
	}
	return clone(r.apis[idx]), true
}

// List returns a snapshot in insertion order.
func (r *Registry) List() []core.MonitoredAPI {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.apis)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.apis)
}

// Reload re-reads the file. On a read or parse failure the current contents
// are kept and the error is returned.
func (r *Registry) Reload() error {
	apis, err := readFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		apis, err = nil, nil
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.apis = r.dedupe(apis)
	return nil
}

func (r *Registry) indexLocked(name string) int {
	key := core.NormalizeName(name)
	if key == "" {
		return -1
	}
	for i, api := range r.apis {
		if api.Key() == key {
			return i
		}
	}
	return -1
}

func (r *Registry) dedupe(apis []core.MonitoredAPI) []core.MonitoredAPI {
	seen := make(map[string]struct{}, len(apis))
	out := make([]core.MonitoredAPI, 0, len(apis))
	for _, api := range apis {
		key := api.Key()
		if key == "" {
			r.logger.Warn("skipping registry entry without a name", zap.String("path", r.path))
			continue
		}
		if _, ok := seen[key]; ok {
			r.logger.Warn("skipping duplicate registry entry", zap.String("api", api.Name))
			continue
		}
		seen[key] = struct{}{}
		out = append(out, api)
	}
	return out
}

func (r *Registry) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func readFile(path string) ([]core.MonitoredAPI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	return file.APIs, nil
}

// writeFile replaces the registry file atomically.
func writeFile(path string, apis []core.MonitoredAPI) error {
	data, err := yaml.Marshal(fileFormat{APIs: apis})
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create registry temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write registry: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close registry: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

func clone(api core.MonitoredAPI) core.MonitoredAPI {
	if api.Headers != nil {
		headers := make(map[string]string, len(api.Headers))
		for k, v := range api.Headers {
			headers[k] = v
		}
		api.Headers = headers
	}
	return api
}

func cloneAll(apis []core.MonitoredAPI) []core.MonitoredAPI {
	out := make([]core.MonitoredAPI, len(apis))
	for i, api := range apis {
		out[i] = clone(api)
	}
	return out
}
