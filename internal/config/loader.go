package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML file on top of the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfigYAML parses YAML bytes on top of Default and validates them.
func ParseConfigYAML(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to parse config yaml: %v", ErrInvalidArgument, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides merges "key value" pairs from the command line. Keys may be
// dotted ("search.epochs"); values are parsed as YAML so lists such as
// "[10,20]" work.
func (c *Config) ApplyOverrides(opts []string) error {
	if len(opts)%2 != 0 {
		return fmt.Errorf("%w: overrides must come in key/value pairs, got %d items", ErrInvalidArgument, len(opts))
	}
	if len(opts) == 0 {
		return nil
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	for i := 0; i < len(opts); i += 2 {
		value, err := parseValue(opts[i+1])
		if err != nil {
			return fmt.Errorf("%w: override %s: %v", ErrInvalidArgument, opts[i], err)
		}
		insert(root, strings.Split(opts[i], "."), value)
	}

	data, err := yaml.Marshal(root)
	if err != nil {
		return fmt.Errorf("failed to encode overrides: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return c.Validate()
}

func parseValue(raw string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return &yaml.Node{Kind: yaml.ScalarNode, Value: raw}, nil
	}
	return doc.Content[0], nil
}

// insert places value under the dotted path, creating intermediate mappings and
// replacing earlier values for the same key.
func insert(m *yaml.Node, path []string, value *yaml.Node) {
	key := path[0]
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != key {
			continue
		}
		if len(path) == 1 {
			m.Content[i+1] = value
			return
		}
		insert(m.Content[i+1], path[1:], value)
		return
	}
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
	if len(path) == 1 {
		m.Content = append(m.Content, keyNode, value)
		return
	}
	child := &yaml.Node{Kind: yaml.MappingNode}
	m.Content = append(m.Content, keyNode, child)
	insert(child, path[1:], value)
}

// Prepare derives the experiment directory when none was given and creates
// <save>, <save>/search and <save>/eval.
func (c *Config) Prepare() error {
	if c.Save == "" {
		c.Save = filepath.Join(
			c.OutDir,
			c.ConfigType,
			c.SearchSpace,
			c.Dataset,
			c.Predictor,
			strconv.FormatInt(c.Seed, 10),
		)
	}
	for _, dir := range []string{c.Save, c.SearchDir(), c.EvalDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create experiment directory %s: %w", dir, err)
		}
	}
	return nil
}

// SearchDir holds search-phase checkpoints.
func (c *Config) SearchDir() string {
	return filepath.Join(c.Save, "search")
}

// EvalDir holds evaluation-phase checkpoints.
func (c *Config) EvalDir() string {
	return filepath.Join(c.Save, "eval")
}

// Validate rejects unknown names and out-of-range values.
func (c *Config) Validate() error {
	checks := []struct {
		field string
		value string
		known []string
	}{
		{"optimizer", c.Optimizer, Optimizers},
		{"search_space", c.SearchSpace, SearchSpaces},
		{"dataset", c.Dataset, Datasets},
		{"predictor", c.Predictor, Predictors},
		{"log_level", c.LogLevel, []string{"debug", "info", "warn", "error"}},
		{"search.acq_fn_type", c.Search.AcqFnType, []string{"its", "ucb", "ei", "exploit_only"}},
		{"search.acq_fn_optimization", c.Search.AcqFnOptimization, []string{"mutation", "random_sampling", "mayfly"}},
		{"search.encoding_type", c.Search.EncodingType, []string{"adjacency_one_hot", "path"}},
	}
	for _, ch := range checks {
		if !slices.Contains(ch.known, ch.value) {
			return fmt.Errorf("%w: unknown %s %q (must be one of %s)",
				ErrInvalidArgument, ch.field, ch.value, strings.Join(ch.known, ", "))
		}
	}

	s := c.Search
	switch {
	case c.Seed < 0:
		return fmt.Errorf("%w: seed cannot be negative", ErrInvalidArgument)
	case s.Epochs < 0:
		return fmt.Errorf("%w: search.epochs cannot be negative", ErrInvalidArgument)
	case s.BatchSize <= 0:
		return fmt.Errorf("%w: search.batch_size must be positive", ErrInvalidArgument)
	case s.TrainPortion <= 0 || s.TrainPortion >= 1:
		return fmt.Errorf("%w: search.train_portion must be in (0, 1)", ErrInvalidArgument)
	case s.LearningRate <= 0:
		return fmt.Errorf("%w: search.learning_rate must be positive", ErrInvalidArgument)
	case s.HiddenDim <= 0:
		return fmt.Errorf("%w: search.hidden_dim must be positive", ErrInvalidArgument)
	case s.NumInit <= 0 || s.K <= 0:
		return fmt.Errorf("%w: search.num_init and search.k must be positive", ErrInvalidArgument)
	case s.NumEnsemble <= 0:
		return fmt.Errorf("%w: search.num_ensemble must be positive", ErrInvalidArgument)
	case s.PopulationSize <= 0 || s.SampleSize <= 0 || s.SampleSize > s.PopulationSize:
		return fmt.Errorf("%w: search.sample_size must be in [1, population_size]", ErrInvalidArgument)
	case s.Patience < 0:
		return fmt.Errorf("%w: search.patience cannot be negative", ErrInvalidArgument)
	case s.TestSize <= 0:
		return fmt.Errorf("%w: search.test_size must be positive", ErrInvalidArgument)
	case c.Evaluation.Epochs < 0 || c.Evaluation.BatchSize <= 0:
		return fmt.Errorf("%w: evaluation.epochs/batch_size out of range", ErrInvalidArgument)
	}
	for _, n := range s.TrainSizes {
		if n <= 0 {
			return fmt.Errorf("%w: search.train_sizes must be positive", ErrInvalidArgument)
		}
	}
	return nil
}
