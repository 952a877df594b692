package conversation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a flat list of message records from a JSON or YAML dump,
// in the order the backend returned them.
func LoadFromFile(filename string) ([]*Message, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return loadFromJSONFile(filename)
	case ".yaml", ".yml":
		return loadFromYAMLFile(filename)
	default:
		return nil, errors.Errorf("unsupported message file %s", filename)
	}
}

func loadFromYAMLFile(filename string) ([]*Message, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var messages []*Message
	err = yaml.NewDecoder(f).Decode(&messages)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %s", filename)
	}

	return normalize(messages), nil
}

func loadFromJSONFile(filename string) ([]*Message, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var messages []*Message
	err = json.NewDecoder(f).Decode(&messages)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %s", filename)
	}

	return normalize(messages), nil
}

func normalize(messages []*Message) []*Message {
	ret := messages[:0]
	for _, m := range messages {
		if m == nil {
			continue
		}
		if m.Images == nil {
			m.Images = []string{}
		}
		ret = append(ret, m)
	}
	return ret
}
