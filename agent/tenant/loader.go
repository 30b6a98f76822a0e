package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// FileLoader reads tenants from a YAML/JSON/TOML file under the "tenants" key.
// The file is re-read on every Load so edits are picked up by Reload.
type FileLoader struct {
	Path string
}

func (f FileLoader) Load(context.Context) ([]Tenant, error) {
	path := strings.TrimSpace(f.Path)
	if path == "" {
		return nil, errors.New("tenant file path is required")
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read tenant file %s: %w", path, err)
	}

	var tenants []Tenant
	if err := v.UnmarshalKey("tenants", &tenants); err != nil {
		return nil, fmt.Errorf("decode tenants: %w", err)
	}
	if len(tenants) == 0 {
		return nil, fmt.Errorf("%w: %s defines no tenants", ErrInvalidTenant, path)
	}
	return tenants, nil
}
