package pathutil

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestWriteReadJSONConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "pathutil")
	require.NoError(t, err)
	defer func() { require.NoError(t, os.RemoveAll(dir)) }()

	path := filepath.Join(dir, "sub", DefaultConfigName)
	in := testConfig{Name: "udt", Value: 3}
	require.NoError(t, WriteJSONConfig(in, path, false))
	assert.Error(t, WriteJSONConfig(in, path, false), "existing file needs replace")
	require.NoError(t, WriteJSONConfig(in, path, true))

	var out testConfig
	require.NoError(t, ReadJSONConfig(path, &out))
	assert.Equal(t, in, out)
}

func TestFindConfigPath(t *testing.T) {
	p, err := FindConfigPath("/tmp/explicit.json", "")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/explicit.json", p)

	require.NoError(t, os.Setenv("UDT_TEST_CONFIG", "/tmp/from-env.json"))
	defer func() { require.NoError(t, os.Unsetenv("UDT_TEST_CONFIG")) }()
	p, err = FindConfigPath("", "UDT_TEST_CONFIG")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.json", p)
}
