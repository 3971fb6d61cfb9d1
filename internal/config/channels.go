package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hamed0406/healthwatch/internal/domain"
)

// ChannelFile is the YAML document listing monitored channels.
type ChannelFile struct {
	Channels []domain.Channel `yaml:"channels" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadChannels reads and validates a channel file. Ids must be unique.
func LoadChannels(path string) ([]domain.Channel, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channels file: %w", err)
	}
	return ParseChannels(b)
}

func ParseChannels(b []byte) ([]domain.Channel, error) {
	var f ChannelFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse channels: %w", err)
	}
	if err := ValidateChannels(f.Channels); err != nil {
		return nil, err
	}
	return f.Channels, nil
}

// ValidateChannels checks struct tags and id uniqueness.
func ValidateChannels(chs []domain.Channel) error {
	seen := make(map[domain.ChannelID]bool, len(chs))
	var errs []error
	for i, ch := range chs {
		if err := validate.Struct(ch); err != nil {
			errs = append(errs, fmt.Errorf("channel %d (%s): %w", i, ch.ID, err))
			continue
		}
		if seen[ch.ID] {
			errs = append(errs, fmt.Errorf("channel %d: duplicate id %q", i, ch.ID))
		}
		seen[ch.ID] = true
	}
	return errors.Join(errs...)
}
