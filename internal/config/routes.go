package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"lambda-route-proxy/internal/apierr"
	"lambda-route-proxy/internal/router"
)

// LoadRouteConfig reads a route table file. Files ending in .json are decoded
// as JSON, anything else as YAML. Unknown fields are rejected so that typos in
// flags such as authorizeRoute do not go unnoticed.
func LoadRouteConfig(path string) (router.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return router.Config{}, apierr.NewConfiguration(fmt.Sprintf("failed to read route table %s", path), err)
	}

	cfg, err := ParseRouteConfig(data, strings.HasSuffix(path, ".json"))
	if err != nil {
		return router.Config{}, apierr.NewConfiguration(fmt.Sprintf("invalid route table %s", path), err)
	}
	return cfg, nil
}

// ParseRouteConfig decodes a route table document
func ParseRouteConfig(data []byte, isJSON bool) (router.Config, error) {
	var cfg router.Config

	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return router.Config{}, err
		}
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return router.Config{}, err
	}
	return cfg, nil
}
