package model_test

import (
	"testing"

	"github.com/scanferry/scanferry/internal/model"
	"github.com/stretchr/testify/require"
)

func TestNewSourceEnvironment(t *testing.T) {
	t.Parallel()

	env, err := model.NewSourceEnvironment(
		"https://yx-acme.scanfactory.io/",
		"https://kc.scanfactory.io/",
		"",
		"importer",
		"s3cret",
	)
	require.NoError(t, err)
	require.Equal(t, "https://yx-acme.scanfactory.io", env.SfURL)
	require.Equal(t, "https://kc.scanfactory.io", env.KcURL)
	require.Equal(t, "scanfactory", env.Realm)
	require.Equal(t, "acme", env.ClientID)
	require.Empty(t, env.Token)

	tokened := env.WithToken("jwt")
	require.Equal(t, "jwt", tokened.Token)
	require.Empty(t, env.Token)
}

func TestNewSourceEnvironmentFail(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario                            string
		sfURL, kcURL, realm, username, pass string
	}{
		{"missing sf url", "", "https://kc", "r", "u", "p"},
		{"missing kc url", "https://sf", "", "r", "u", "p"},
		{"missing username", "https://sf", "https://kc", "r", "", "p"},
		{"missing password", "https://sf", "https://kc", "r", "u", ""},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := model.NewSourceEnvironment(tt.sfURL, tt.kcURL, tt.realm, tt.username, tt.pass)
			require.ErrorIs(t, err, model.ErrMissingEnv)
		})
	}
}

func TestNewDestinationEnvironment(t *testing.T) {
	t.Parallel()

	env, err := model.NewDestinationEnvironment("https://dojo.example.com/", "token123")
	require.NoError(t, err)
	require.Equal(t, "https://dojo.example.com", env.URL)
	require.Equal(t, "token123", env.Token)

	_, err = model.NewDestinationEnvironment("", "token123")
	require.ErrorIs(t, err, model.ErrMissingEnv)
	_, err = model.NewDestinationEnvironment("https://dojo.example.com", "")
	require.ErrorIs(t, err, model.ErrMissingEnv)
}
