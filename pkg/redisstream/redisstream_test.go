package redisstream

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSettings_Validate(t *testing.T) {
	require.NoError(t, Settings{}.Validate())

	s := DefaultSettings()
	s.Enabled = true
	require.NoError(t, s.Validate())

	s.Addr = ""
	require.Error(t, s.Validate())

	s = DefaultSettings()
	s.Enabled = true
	s.Consumer = ""
	err := s.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "Consumer")

	// disabled settings are not checked
	require.NoError(t, Settings{Addr: ""}.Validate())
}

func TestNewParameterLayer(t *testing.T) {
	section, err := NewParameterLayer()
	require.NoError(t, err)
	require.Equal(t, Slug, section.GetSlug())
}

func TestIsBusyGroup(t *testing.T) {
	require.True(t, isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")))
	require.False(t, isBusyGroup(errors.New("ERR no such key")))
	require.False(t, isBusyGroup(nil))
}

func TestNewClient(t *testing.T) {
	c := NewClient(Settings{Addr: "127.0.0.1:6390"})
	defer func() { _ = c.Close() }()
	require.Equal(t, "127.0.0.1:6390", c.Options().Addr)
}
