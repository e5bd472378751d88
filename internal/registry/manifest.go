package registry

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProjectManifest supplies defaults shared by every plugin under a project.
type ProjectManifest struct {
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Color       string `yaml:"color"`
}

// PluginManifest is a plugin-level manifest, shallow-overriding its
// project's manifest. Provides declares the node type names the plugin
// exports without requiring the module to be loaded — this is what lets
// the registry distinguish an inactive plugin's types (known but
// currently unavailable) from a genuinely unknown type, honoring the "do
// not load an inactive plugin's module" rule.
type PluginManifest struct {
	Version      string   `yaml:"version"`
	Description  string   `yaml:"description"`
	Category     string   `yaml:"category"`
	Color        string   `yaml:"color"`
	Provides     []string `yaml:"provides"`
	SourceFormat string   `yaml:"source_format"` // "native", "node-red", "n8n" — display hint only
}

func loadProjectManifest(projectDir string) (ProjectManifest, error) {
	var m ProjectManifest
	data, err := os.ReadFile(filepath.Join(projectDir, "manifest.yaml"))
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, err
	}
	return m, nil
}

func loadPluginManifest(pluginDir string) (PluginManifest, error) {
	var m PluginManifest
	data, err := os.ReadFile(filepath.Join(pluginDir, "manifest.yaml"))
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, err
	}
	return m, nil
}

// merge shallow-overrides the project manifest's defaults with any
// plugin-level value that is set.
func merge(project ProjectManifest, plugin PluginManifest) PluginManifest {
	out := plugin
	if out.Version == "" {
		out.Version = project.Version
	}
	if out.Description == "" {
		out.Description = project.Description
	}
	if out.Category == "" {
		out.Category = project.Category
	}
	if out.Color == "" {
		out.Color = project.Color
	}
	return out
}
