package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"lambda-route-proxy/internal/apierr"
	"lambda-route-proxy/internal/security"
)

// PolicyFiles are the security policy file names, in search order
var PolicyFiles = []string{
	"api-security.json",
	".api-security.json",
	"api-security.yaml",
	"api-security.yml",
}

// LoadSecurityPolicy merges the first policy file found in dir over the
// default policy. When no policy file exists, the apiSecurity field of
// dir/package.json is used. The merged policy is validated before it is
// returned, together with the path it was read from ("" for defaults).
func LoadSecurityPolicy(dir string, log logrus.FieldLogger) (security.Policy, string, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	override, source, err := findPolicy(dir)
	if err != nil {
		return security.Policy{}, source, err
	}

	policy := security.DefaultPolicy()
	if source == "" {
		log.WithField("dir", dir).Info("No security configuration found, using defaults")
	} else {
		policy = security.Merge(policy, override)
		log.WithField("source", source).Info("Loaded security configuration")
	}

	if _, err := security.Validate(policy); err != nil {
		return security.Policy{}, source, err
	}
	return policy, source, nil
}

func findPolicy(dir string) (security.Override, string, error) {
	for _, name := range PolicyFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return security.Override{}, path, apierr.NewConfiguration("failed to read security configuration", err)
		}

		override, err := decodeOverride(path, data)
		if err != nil {
			return security.Override{}, path, apierr.NewConfiguration(fmt.Sprintf("invalid security configuration in %s", path), err)
		}
		return override, path, nil
	}

	path := filepath.Join(dir, "package.json")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return security.Override{}, "", nil
	}
	if err != nil {
		return security.Override{}, path, apierr.NewConfiguration("failed to read package.json", err)
	}

	var pkg struct {
		APISecurity *security.Override `json:"apiSecurity"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return security.Override{}, path, apierr.NewConfiguration("invalid package.json", err)
	}
	if pkg.APISecurity == nil {
		return security.Override{}, "", nil
	}
	return *pkg.APISecurity, path, nil
}

func decodeOverride(path string, data []byte) (security.Override, error) {
	var override security.Override
	if len(bytes.TrimSpace(data)) == 0 {
		return override, nil
	}

	if strings.HasSuffix(path, ".json") {
		err := json.Unmarshal(data, &override)
		return override, err
	}
	err := yaml.Unmarshal(data, &override)
	return override, err
}
