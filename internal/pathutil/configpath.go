// Package pathutil locates and writes configuration files.
package pathutil

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("pathutil")

// DefaultConfigName is the file name searched for when no path is given.
const DefaultConfigName = "udt-config.json"

// ErrConfigNotFound is returned when no configuration file exists in any searched location.
var ErrConfigNotFound = errors.New("config not found")

// DefaultPaths returns the locations searched for a configuration file, in order.
func DefaultPaths() []string {
	var paths []string
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, DefaultConfigName))
	}
	if home, err := homedir.Dir(); err == nil {
		paths = append(paths, filepath.Join(home, ".udt", DefaultConfigName))
	}
	return append(paths, filepath.Join("/usr/local/udt", DefaultConfigName))
}

// FindConfigPath returns the configuration file to use: the explicit path when
// given (with a leading ~ expanded), then the value of env, then the first
// existing default path.
func FindConfigPath(path, env string) (string, error) {
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return "", errors.Wrapf(err, "expand %s", path)
		}
		log.Infof("Using %s as config path", expanded)
		return expanded, nil
	}
	if env != "" {
		if p, ok := os.LookupEnv(env); ok {
			log.Infof("Using $%s as config path: %s", env, p)
			return homedir.Expand(p)
		}
	}
	defaults := DefaultPaths()
	for i, p := range defaults {
		if _, err := os.Stat(p); err != nil {
			log.Debugf("- [%d/%d] '%s' cannot be accessed: %s", i+1, len(defaults), p, err)
			continue
		}
		log.Debugf("- [%d/%d] '%s' is found", i+1, len(defaults), p)
		return p, nil
	}
	return "", ErrConfigNotFound
}

// ReadJSONConfig decodes the JSON file at path into conf.
func ReadJSONConfig(path string, conf interface{}) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Warnf("Failed to close %s", path)
		}
	}()
	return errors.Wrapf(json.NewDecoder(f).Decode(conf), "decode %s", path)
}

// WriteJSONConfig writes conf as indented JSON to output, creating its directory.
// An existing file is only overwritten when replace is set.
func WriteJSONConfig(conf interface{}, output string, replace bool) error {
	output, err := homedir.Expand(output)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(conf, "", "\t")
	if err != nil {
		return err
	}
	if _, err := os.Stat(output); !replace && err == nil {
		return errors.Errorf("file %s already exists", output)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0750); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	if err := ioutil.WriteFile(output, raw, 0600); err != nil {
		return err
	}
	log.Infof("Wrote %d bytes to %s", len(raw), output)
	return nil
}
