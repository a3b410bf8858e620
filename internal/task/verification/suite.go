package verification

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/adskit/ads/internal/task/models"
)

// Suite is a named smoke definition loaded from a YAML file under the suite
// directory.
type Suite struct {
	Name     string               `yaml:"name"`
	ReadyURL string               `yaml:"readyUrl"`
	Service  *models.SmokeService `yaml:"service"`
	Steps    []models.SmokeStep   `yaml:"steps"`
}

// loadSuite reads <suiteDir>/<name>.yaml. The name is sanitised to its base
// so a spec cannot escape the suite directory.
func (r *Runner) loadSuite(name string) (*Suite, error) {
	if r.cfg.SuiteDir == "" {
		return nil, fmt.Errorf("no suite directory configured")
	}
	base := filepath.Base(strings.TrimSuffix(name, ".yaml"))
	path := filepath.Join(r.cfg.SuiteDir, base+".yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("suite %q: %w", name, err)
	}
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("suite %q is malformed: %w", name, err)
	}
	if suite.Name == "" {
		suite.Name = base
	}
	return &suite, nil
}
