package bronze

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceInput is one raw directory and the record layout of its files.
type SourceInput struct {
	Source Source `yaml:"source"`
	Dir    string `yaml:"dir"`
}

// SourcesConfig accepts either:
//  1. mapping form (preferred):
//     sources:
//     agmarknet: /data/raw/agmarknet
//     enam:      {dir: /data/raw/enam}
//  2. list form:
//     sources:
//     - source: agmarknet
//     dir: /data/raw/agmarknet
type SourcesConfig struct {
	Items []SourceInput
}

func (c *SourcesConfig) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.MappingNode:
		items := make([]SourceInput, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			k := value.Content[i]
			v := value.Content[i+1]
			src, err := ParseSource(k.Value)
			if err != nil {
				return fmt.Errorf("line %d: %w (known: %v)", k.Line, err, knownSources)
			}

			var dir string
			switch v.Kind {
			case yaml.ScalarNode:
				dir = strings.TrimSpace(v.Value)
			case yaml.MappingNode:
				var tmp struct {
					Dir string `yaml:"dir"`
				}
				if err := v.Decode(&tmp); err != nil {
					return err
				}
				dir = strings.TrimSpace(tmp.Dir)
			default:
				continue
			}
			if dir == "" {
				continue
			}
			items = append(items, SourceInput{Source: src, Dir: dir})
		}
		c.Items = items
		return nil
	case yaml.SequenceNode:
		var raw []struct {
			Source string `yaml:"source"`
			Dir    string `yaml:"dir"`
		}
		if err := value.Decode(&raw); err != nil {
			return err
		}
		items := make([]SourceInput, 0, len(raw))
		for _, r := range raw {
			src, err := ParseSource(r.Source)
			if err != nil {
				return fmt.Errorf("%w (known: %v)", err, knownSources)
			}
			if dir := strings.TrimSpace(r.Dir); dir != "" {
				items = append(items, SourceInput{Source: src, Dir: dir})
			}
		}
		c.Items = items
		return nil
	default:
		// ignore other kinds
		return nil
	}
}

type FileConfig struct {
	DB          string `yaml:"db"`
	ManifestDir string `yaml:"manifest_dir"`
	MetricsFile string `yaml:"metrics_file"`
	Job         string `yaml:"job"`
	Debug       bool   `yaml:"debug"`

	Sources SourcesConfig `yaml:"sources"`

	Workers      int `yaml:"workers"`
	ParseWorkers int `yaml:"parse_workers"`
	// MaxPayloadMB caps the payload stored on a bronze file. 0 means the default.
	MaxPayloadMB int64 `yaml:"max_payload_mb"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overlays BRONZE_* environment variables on cfg. Unset variables
// leave the file value alone.
func (c *FileConfig) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv("BRONZE_DB")); v != "" {
		c.DB = v
	}
	if v := strings.TrimSpace(getenv("BRONZE_MANIFEST_DIR")); v != "" {
		c.ManifestDir = v
	}
	if v := strings.TrimSpace(getenv("BRONZE_METRICS_FILE")); v != "" {
		c.MetricsFile = v
	}
	if v := strings.TrimSpace(getenv("BRONZE_JOB")); v != "" {
		c.Job = v
	}
	if v := strings.TrimSpace(getenv("BRONZE_DEBUG")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BRONZE_DEBUG: %w", err)
		}
		c.Debug = b
	}
	for name, dst := range map[string]*int{"BRONZE_WORKERS": &c.Workers, "BRONZE_PARSE_WORKERS": &c.ParseWorkers} {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}
	return nil
}
