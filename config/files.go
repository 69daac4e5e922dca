package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/c360/datacollector/errors"
)

const (
	maxLayerSize = 10 << 20 // 10MB
	maxEnvValue  = 4096
)

// layerExtensions are the file types a layer may have. JSON is decoded by
// the YAML decoder.
var layerExtensions = map[string]bool{".yml": true, ".yaml": true, ".json": true}

// readLayer reads one configuration layer. Missing files keep
// os.ErrNotExist in their chain.
func readLayer(path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !layerExtensions[ext] {
		return nil, pkgerrors.WrapInvalid(fmt.Errorf("%w: %s is not a YAML or JSON file", pkgerrors.ErrInvalidConfig, path),
			"Loader", "readLayer", "check extension")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, pkgerrors.WrapInvalid(err, "Loader", "readLayer", "stat layer")
	}
	if !info.Mode().IsRegular() {
		return nil, pkgerrors.WrapInvalid(fmt.Errorf("%w: %s is not a regular file", pkgerrors.ErrInvalidConfig, path),
			"Loader", "readLayer", "stat layer")
	}
	if info.Size() > maxLayerSize {
		return nil, pkgerrors.WrapInvalid(fmt.Errorf("%w: %s exceeds %d bytes", pkgerrors.ErrInvalidConfig, path, maxLayerSize),
			"Loader", "readLayer", "stat layer")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.WrapFatal(err, "Loader", "readLayer", "read layer")
	}
	return data, nil
}

// writeLayer writes data readable by the owner only.
func writeLayer(path string, data []byte) error {
	if !layerExtensions[strings.ToLower(filepath.Ext(path))] {
		return pkgerrors.WrapInvalid(fmt.Errorf("%w: %s is not a YAML or JSON file", pkgerrors.ErrInvalidConfig, path),
			"Config", "SaveToFile", "check extension")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return pkgerrors.WrapFatal(err, "Config", "SaveToFile", "write file")
	}
	return nil
}

// checkEnvValue rejects override values no configuration field could hold.
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvValue {
		return pkgerrors.WrapInvalid(fmt.Errorf("%w: %s longer than %d bytes", pkgerrors.ErrInvalidConfig, key, maxEnvValue),
			"Loader", "applyEnvOverrides", "check "+key)
	}
	if strings.ContainsRune(value, 0) {
		return pkgerrors.WrapInvalid(fmt.Errorf("%w: %s contains a NUL byte", pkgerrors.ErrInvalidConfig, key),
			"Loader", "applyEnvOverrides", "check "+key)
	}
	return nil
}
