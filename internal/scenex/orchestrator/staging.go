package orchestrator

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/otiai10/copy"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/scenexproject/scenex/internal/scenex/domain"
)

// ScenarioFileName is the canonical name every scenario definition is staged
// under, independent of its original file name.
const ScenarioFileName = "scenario.osc"

// VariantFileName holds the serialized variant parameters next to the
// scenario definition.
const VariantFileName = "scenario.variant"

// stageScenarioInputs builds a local tree mirroring the relay's input layout,
// config/{runId}/{scenarioKey}/..., under a fresh temporary directory. The
// returned path is the "config" directory, ready for a single bulk upload.
// The caller removes the tree's parent when done.
func stageScenarioInputs(runId string, scenarios *domain.ScenarioSet, commonFilesDir string) (string, error) {
	stagingRoot := filepath.Join(os.TempDir(), "scenex-staging-"+uuid.NewString())
	configDir := filepath.Join(stagingRoot, "config", runId)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", errors.WithStack(err)
	}
	log.Debugf("Staging scenario inputs under %s", stagingRoot)

	for _, key := range scenarios.Keys() {
		input, _ := scenarios.Get(key)
		scenarioDir := filepath.Join(configDir, filepath.FromSlash(key))
		if err := stageScenario(scenarioDir, input, commonFilesDir); err != nil {
			_ = os.RemoveAll(stagingRoot)
			return "", errors.Wrapf(err, "failed to stage scenario %s", key)
		}
	}
	return filepath.Join(stagingRoot, "config"), nil
}

func stageScenario(scenarioDir string, input domain.ScenarioInput, commonFilesDir string) error {
	if err := os.MkdirAll(scenarioDir, 0o755); err != nil {
		return errors.WithStack(err)
	}

	if err := copy.Copy(input.BasePath, filepath.Join(scenarioDir, ScenarioFileName)); err != nil {
		return errors.Wrapf(err, "failed to copy scenario definition %s", input.BasePath)
	}

	baseDir := filepath.Dir(input.BasePath)
	for _, relativePath := range input.AuxiliaryFiles {
		source := filepath.Join(baseDir, filepath.FromSlash(relativePath))
		destination := filepath.Join(scenarioDir, filepath.FromSlash(relativePath))
		if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
			return errors.WithStack(err)
		}
		if err := copy.Copy(source, destination); err != nil {
			return errors.Wrapf(err, "failed to copy auxiliary file %s", relativePath)
		}
	}

	for _, relativePath := range input.VariantFiles {
		source := filepath.Join(baseDir, filepath.FromSlash(input.VariantDir), filepath.FromSlash(relativePath))
		destination := filepath.Join(scenarioDir, filepath.FromSlash(relativePath))
		if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
			return errors.WithStack(err)
		}
		if err := copy.Copy(source, destination); err != nil {
			return errors.Wrapf(err, "failed to copy variant file %s", relativePath)
		}
	}

	if commonFilesDir != "" {
		if err := copy.Copy(commonFilesDir, scenarioDir); err != nil {
			return errors.Wrapf(err, "failed to copy common files from %s", commonFilesDir)
		}
	}

	if input.VariantParameters != nil {
		data, err := yaml.Marshal(input.VariantParameters)
		if err != nil {
			return errors.Wrap(err, "failed to serialize variant parameters")
		}
		if err := os.WriteFile(filepath.Join(scenarioDir, VariantFileName), data, 0o644); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
