package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// LoadFromEnv loads the profile at path, then applies MAILMONKEY_*
// environment overrides. With no dotenv files a .env in the working directory
// is loaded if present; named files must exist. Variables already set in the
// environment win over .env values.
func LoadFromEnv(path string, dotenv ...string) (*Profile, error) {
	if len(dotenv) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(dotenv...); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	p := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		p = loaded
	}

	if err := ParseEnv(p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseEnv applies environment variables to target's env-tagged fields.
// Unset variables leave fields unchanged.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
