package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// SourceEmbedded and SourceBuiltin name configs that did not come from a file.
const (
	SourceEmbedded = "embedded"
	SourceBuiltin  = "builtin"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid arena config")

var arenaSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("arena.schema.json", arenaSchemaJSON)
})

// Load loads the arena configuration and reports where it came from.
// Search order: customPath -> ~/.arena/arena.yaml -> ./configs/arena.yaml -> embedded default.
// A custom path that cannot be read or parsed is an error; the other
// locations are skipped when unusable.
func Load(customPath string) (ArenaConfig, string, error) {
	if customPath != "" {
		data, err := os.ReadFile(customPath)
		if err != nil {
			return ArenaConfig{}, "", fmt.Errorf("failed to read config %s: %w", customPath, err)
		}
		cfg, err := Parse(data)
		if err != nil {
			return ArenaConfig{}, "", fmt.Errorf("failed to parse config %s: %w", customPath, err)
		}
		return cfg, customPath, nil
	}

	if userCfgPath := userConfigPath("arena.yaml"); userCfgPath != "" {
		if data, err := os.ReadFile(userCfgPath); err == nil {
			if cfg, err := Parse(data); err == nil {
				return cfg, userCfgPath, nil
			}
		}
	}

	local := filepath.Join("configs", "arena.yaml")
	if data, err := os.ReadFile(local); err == nil {
		if cfg, err := Parse(data); err == nil {
			return cfg, local, nil
		}
	}

	if cfg, err := Parse(defaultArenaYAML); err == nil {
		return cfg, SourceEmbedded, nil
	}
	return DefaultArenaConfig(), SourceBuiltin, nil
}

// Parse decodes YAML over the built-in defaults, checks it against the
// schema and validates the result. Entries under kinds replace the whole
// row for that kind.
func Parse(data []byte) (ArenaConfig, error) {
	if err := validateSchema(data); err != nil {
		return ArenaConfig{}, err
	}
	cfg := DefaultArenaConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ArenaConfig{}, fmt.Errorf("config: decoding yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ArenaConfig{}, err
	}
	return cfg, nil
}

func validateSchema(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: decoding yaml: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	// Round-trip through JSON so the validator sees plain JSON values.
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("config: converting yaml: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("config: converting yaml: %w", err)
	}

	schema, err := arenaSchema()
	if err != nil {
		return fmt.Errorf("config: compiling schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Validate checks the rules the schema cannot express.
func (c ArenaConfig) Validate() error {
	sc, err := c.Sim()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	switch {
	case sc.Runtime.Players < 1:
		return fmt.Errorf("%w: need at least one player", ErrInvalid)
	case sc.Runtime.Map.Width <= 0 || sc.Runtime.Map.Height <= 0:
		return fmt.Errorf("%w: map must have positive size", ErrInvalid)
	case sc.CellSize <= 0:
		return fmt.Errorf("%w: cell size must be positive", ErrInvalid)
	case sc.Horde.SizeMin > sc.Horde.SizeMax:
		return fmt.Errorf("%w: horde size_min %v above size_max %v", ErrInvalid, sc.Horde.SizeMin, sc.Horde.SizeMax)
	case sc.Horde.FollowMin > sc.Horde.FollowMax:
		return fmt.Errorf("%w: horde follow_min %v above follow_max %v", ErrInvalid, sc.Horde.FollowMin, sc.Horde.FollowMax)
	case sc.Horde.Count > 0 && len(sc.Horde.Kinds) == 0:
		return fmt.Errorf("%w: horde.kinds is empty", ErrInvalid)
	}
	for i, w := range sc.Weights {
		if w.Vision <= 0 {
			return fmt.Errorf("%w: kind %d has no vision radius", ErrInvalid, i)
		}
	}
	if err := c.RollbackConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg ArenaConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// userConfigPath returns the path to user config file, or empty if home is unavailable.
func userConfigPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".arena", filename)
}
