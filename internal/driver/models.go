package driver

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/laulauland/mill/internal/errkind"
)

// NormalizeModels trims entries, drops empties, and deduplicates
// preserving first-seen order. Idempotent.
func NormalizeModels(models []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// ModelCatalog returns the model ids available to a driver: the
// explicit override when given, otherwise the driver's settings file.
// A returned catalog is normalized and non-empty; drivers without a
// settings catalog yield nil and no error.
func ModelCatalog(tag string, override []string) ([]string, error) {
	if ids := NormalizeModels(override); len(ids) > 0 {
		return ids, nil
	}
	if len(override) > 0 {
		return nil, errkind.New(errkind.ModelNotFound, "model override for driver %q is empty after normalization", tag)
	}

	var (
		ids []string
		err error
	)
	switch strings.TrimSpace(tag) {
	case "pi":
		ids, err = piEnabledModels()
	default:
		// Drivers without a settings catalog accept any model id; the
		// CLI below them validates.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ids = NormalizeModels(ids)
	if len(ids) == 0 {
		return nil, errkind.New(errkind.ModelNotFound, "driver %q has no enabled models", tag)
	}
	return ids, nil
}

// CheckModel validates a requested model against the driver's catalog.
// Drivers with no catalog accept everything.
func CheckModel(tag string, model string) error {
	catalog, err := ModelCatalog(tag, nil)
	if err != nil {
		var te *errkind.Error
		if errors.As(err, &te) && te.Kind == errkind.ModelNotFound {
			// No catalog resolvable: defer validation to the driver CLI.
			return nil
		}
		return err
	}
	if catalog == nil {
		return nil
	}
	model = strings.TrimSpace(model)
	for _, id := range catalog {
		if id == model {
			return nil
		}
	}
	return errkind.New(errkind.ModelNotFound, "model %q is not enabled for driver %q", model, tag)
}

// UnqualifiedModelID strips a provider prefix: the substring after the
// last "/". Claude-style CLIs expect the bare id.
func UnqualifiedModelID(model string) string {
	model = strings.TrimSpace(model)
	if i := strings.LastIndexByte(model, '/'); i >= 0 {
		return model[i+1:]
	}
	return model
}

type piSettings struct {
	EnabledModels []string `json:"enabledModels"`
}

func piEnabledModels() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(home, ".pi", "agent", "settings.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errkind.New(errkind.ModelNotFound, "pi settings not found at %s", path)
		}
		return nil, err
	}
	var s piSettings
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errkind.Wrap(errkind.Runtime, err, "parse %s", path)
	}
	return s.EnabledModels, nil
}
