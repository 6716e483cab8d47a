package memory

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"appointly/backend/internal/domain"
)

type seedUser struct {
	ID       string `mapstructure:"id"`
	Email    string `mapstructure:"email"`
	FullName string `mapstructure:"full_name"`
	Role     string `mapstructure:"role"`
}

// LoadSeedUsers reads the users list of a YAML, JSON or TOML seed file. Ids
// must be set so tokens minted for them stay valid across restarts.
func LoadSeedUsers(path string) ([]domain.User, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var raw []seedUser
	if err := v.UnmarshalKey("users", &raw); err != nil {
		return nil, fmt.Errorf("decode seed users: %w", err)
	}

	users := make([]domain.User, 0, len(raw))
	seen := make(map[uuid.UUID]struct{}, len(raw))
	for i, r := range raw {
		id, err := uuid.Parse(strings.TrimSpace(r.ID))
		if err != nil || id == uuid.Nil {
			return nil, fmt.Errorf("users[%d]: invalid id %q", i, r.ID)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("users[%d]: duplicate id %s", i, id)
		}
		seen[id] = struct{}{}

		role := domain.Role(strings.ToLower(strings.TrimSpace(r.Role)))
		if !role.Valid() {
			return nil, fmt.Errorf("users[%d]: invalid role %q", i, r.Role)
		}
		users = append(users, domain.User{
			ID:       id,
			Email:    strings.TrimSpace(r.Email),
			FullName: strings.TrimSpace(r.FullName),
			Role:     role,
		})
	}
	return users, nil
}

// Seed stores users through PutUser.
func (s *Store) Seed(users []domain.User) {
	for _, u := range users {
		s.PutUser(u)
	}
}
