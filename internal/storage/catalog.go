package storage

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mkrelic/questline/pkg/quest"
)

// Quest catalog operations (filesystem-backed)

// LoadCatalog reads every quest definition under dataDir/quests and builds
// the immutable catalog. Unlike progress records this is static content: a
// malformed or invalid definition fails the load rather than being skipped,
// so bad content never reaches players.
func LoadCatalog(dataDir string, logger *slog.Logger) (*quest.Catalog, error) {
	if dataDir == "" {
		dataDir = "./data"
	}
	questsDir := filepath.Join(dataDir, "quests")

	catalog := quest.NewCatalog()
	err := filepath.WalkDir(questsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		def, err := ReadDefinition(path)
		if err != nil {
			return err
		}
		if err := catalog.Add(def); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		for _, w := range quest.LintAmbiguousGuards(def) {
			logger.Warn("Ambiguous quest guards", "quest", w.Quest, "detail", w.String())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load quest catalog: %w", err)
	}

	logger.Info("Quest catalog loaded", "dir", questsDir, "quests", catalog.Len())
	return catalog, nil
}

// ReadDefinition loads and unmarshals a single quest definition file.
func ReadDefinition(path string) (*quest.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("quest definition not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read quest definition: %w", err)
	}

	var def quest.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quest definition %s: %w", path, err)
	}
	return &def, nil
}
