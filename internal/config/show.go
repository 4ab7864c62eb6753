package config

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
)

// RenderEffective writes cfg as TOML that Load accepts, preceded by a
// comment naming the state database it resolves to. Unset optional paths
// and empty skip lists are left out.
func RenderEffective(cfg *Config, w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# Effective treesync configuration\n# state database: %s\n\n",
		cfg.StatePath()); err != nil {
		return err
	}

	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}
