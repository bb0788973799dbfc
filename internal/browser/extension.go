// File: internal/browser/extension.go
package browser

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PrepareExtension validates the unpacked extension directory and scrubs the
// artifacts that make Chrome silently refuse to load it via --load-extension.
func PrepareExtension(path string, logger *zap.Logger) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("extension path not found: %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("extension path is not a directory: %s", path)
	}

	manifestPath := filepath.Join(path, "manifest.json")
	if _, err := os.Stat(manifestPath); err != nil {
		return fmt.Errorf("manifest.json not found in %s (the path must point at the unpacked extension root): %w", path, err)
	}

	// _metadata is a Chrome Web Store artifact. When it survives a copy out of
	// Chrome's Extensions directory, Chrome treats the extension as managed
	// and silently ignores --load-extension.
	metadataDir := filepath.Join(path, "_metadata")
	if _, err := os.Stat(metadataDir); err == nil {
		if err := os.RemoveAll(metadataDir); err != nil {
			return fmt.Errorf("failed to remove _metadata directory: %w", err)
		}
		logger.Info("Removed _metadata directory from extension (it blocks unpacked loading).")
	}

	if err := sanitizeManifest(manifestPath, logger); err != nil {
		// Non-fatal: the manifest may already be clean, or read-only.
		logger.Warn("Could not sanitize manifest.json.", zap.Error(err))
	}

	logger.Info("Extension prepared.", zap.String("path", path))
	return nil
}

// sanitizeManifest strips manifest fields that conflict with unpacked loading:
// update_url and key mark the extension as a Web Store install, and
// action.browser_style is a Firefox property Chrome may reject.
func sanitizeManifest(manifestPath string, logger *zap.Logger) error {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest map[string]interface{}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	var removed []string
	for _, field := range []string{"update_url", "key"} {
		if _, ok := manifest[field]; ok {
			delete(manifest, field)
			removed = append(removed, field)
		}
	}
	if action, ok := manifest["action"].(map[string]interface{}); ok {
		if _, ok := action["browser_style"]; ok {
			delete(action, "browser_style")
			removed = append(removed, "action.browser_style")
		}
	}

	if len(removed) == 0 {
		return nil
	}

	out, err := json.MarshalIndent(manifest, "", "   ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	logger.Info("Stripped store/Firefox fields from manifest.json.", zap.Strings("fields", removed))
	return nil
}
