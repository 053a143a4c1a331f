package workers

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"genesis/internal/services"
	"genesis/internal/store"
)

// AccountSeed is one entry in the accounts YAML file. The file pre-registers
// source accounts before the first discovery pass so priorities and custom
// selectors are in place when their articles arrive.
type AccountSeed struct {
	MPID      string            `yaml:"mp_id"`
	MPName    string            `yaml:"mp_name"`
	Nickname  string            `yaml:"nickname"`
	Active    *bool             `yaml:"active"`
	Priority  int               `yaml:"priority"`
	Selectors map[string]string `yaml:"selectors"`
}

type accountSeedFile struct {
	Accounts []AccountSeed `yaml:"accounts"`
}

// LoadAccountSeeds reads the YAML seed file. A missing path is not an error:
// seeding is optional and accounts also appear through feed metadata.
func LoadAccountSeeds(path string) ([]AccountSeed, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var file accountSeedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "discovery", "parse accounts file", path, err)
	}
	for i, seed := range file.Accounts {
		if seed.MPID == "" {
			return nil, services.Wrap(services.ErrConfiguration, "discovery", "parse accounts file",
				fmt.Sprintf("account %d has no mp_id", i), nil)
		}
	}
	return file.Accounts, nil
}

// SeedAccounts registers the YAML accounts in the store.
func SeedAccounts(ctx context.Context, st *store.Store, seeds []AccountSeed) error {
	for _, seed := range seeds {
		name := seed.MPName
		if name == "" {
			name = seed.MPID
		}
		active := true
		if seed.Active != nil {
			active = *seed.Active
		}
		selectors := ""
		if len(seed.Selectors) > 0 {
			raw, err := yaml.Marshal(seed.Selectors)
			if err != nil {
				return fmt.Errorf("encode selectors for %s: %w", seed.MPID, err)
			}
			selectors = string(raw)
		}
		err := st.UpsertAccount(ctx, store.AccountUpdate{
			MPID:            seed.MPID,
			MPName:          name,
			MPNickname:      seed.Nickname,
			IsActive:        active,
			Priority:        seed.Priority,
			CustomSelectors: selectors,
		})
		if err != nil {
			return fmt.Errorf("seed account %s: %w", seed.MPID, err)
		}
	}
	return nil
}
