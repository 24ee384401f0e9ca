package config

import (
	"fmt"
	"strconv"
)

// KeyInfo is one row of `clawrelay config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll lists the effective value of every file-settable key. Secrets are
// omitted entirely; they only ever come from the environment.
func ShowAll(cfg Config) []KeyInfo {
	var rows []KeyInfo
	for _, s := range fileKeys() {
		rows = append(rows, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprint(s.extract(cfg)),
		})
	}
	return rows
}

// SetKey persists key=value in the YAML config file. An environment
// variable for the same key still wins at load time.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, ok := lookupKey(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("%q is read from %s only and is never written to the config file", key, s.env)
	}

	if s.typ == kInt {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer: %w", key, err)
		}
		return b.SetInt(key, n)
	}
	return b.SetString(key, value)
}

// ValidKeys names the keys accepted by SetKey.
func ValidKeys() []string {
	var keys []string
	for _, s := range fileKeys() {
		keys = append(keys, s.key)
	}
	return keys
}

func lookupKey(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func fileKeys() []keySpec {
	var out []keySpec
	for _, s := range specs {
		if !s.secret {
			out = append(out, s)
		}
	}
	return out
}
