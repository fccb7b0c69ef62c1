package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("SLIPBOX_TEST_TOKEN", "s3cret")
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nport: 9\ntoken: ${SLIPBOX_TEST_TOKEN}\n"), 0o644))

	var s sample
	require.NoError(t, Load(path, &s))
	assert.Equal(t, sample{Name: "x", Port: 9, Token: "s3cret"}, s)
}

func TestLoad_Validates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 0\n"), 0o644))
	var s sample
	assert.ErrorContains(t, Load(path, &s), "validation failed")
}

func TestLoadWithDefaults_MissingKeepsDefaults(t *testing.T) {
	s := sample{Name: "default", Port: 1}
	require.NoError(t, LoadWithDefaults(filepath.Join(t.TempDir(), "nope.yaml"), "", &s))
	assert.Equal(t, "default", s.Name)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "c.yaml")
	in := sample{Name: "n", Port: 8080}
	require.NoError(t, Save(path, &in))

	var out sample
	require.NoError(t, Load(path, &out))
	assert.Equal(t, in, out)
}
