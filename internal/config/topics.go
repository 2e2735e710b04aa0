package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// topicsFile is the YAML shape for topic lists. A bare YAML sequence is also
// accepted.
type topicsFile struct {
	Topics []string `yaml:"topics"`
}

// LoadTopicsFile reads a topic list from path.
// YAML files (.yaml/.yml) may be either a sequence of strings or a mapping
// with a "topics" key. Anything else is treated as plain text: one topic per
// line, blank lines and #-comments ignored.
func LoadTopicsFile(path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return loadTopicsYAML(path)
	}
	return loadTopicsText(path)
}

func loadTopicsYAML(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topics file %s: %w", path, err)
	}

	var seq []string
	if err := yaml.Unmarshal(data, &seq); err == nil && len(seq) > 0 {
		return cleanTopics(seq), nil
	}

	var tf topicsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse topics file %s: %w", path, err)
	}
	topics := cleanTopics(tf.Topics)
	if len(topics) == 0 {
		return nil, fmt.Errorf("topics file %s contains no topics", path)
	}
	return topics, nil
}

func loadTopicsText(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open topics file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var topics []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		topics = append(topics, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read topics file %s: %w", path, err)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("topics file %s contains no topics", path)
	}
	return topics, nil
}

func cleanTopics(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
