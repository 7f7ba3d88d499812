package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scenexproject/scenex/internal/scenex/configuration"
	"github.com/scenexproject/scenex/internal/scenex/domain"
	"github.com/scenexproject/scenex/internal/scenex/manifest"
	"github.com/scenexproject/scenex/internal/scenex/orchestrator"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all scenarios as jobs on the cluster and wait for completion.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}

			scenariosDir, _ := cmd.Flags().GetString("scenarios")
			manifestPath, _ := cmd.Flags().GetString("manifest")
			runCount, _ := cmd.Flags().GetInt("runs")
			if manifestPath == "" {
				manifestPath = app.config.Execution.ManifestPath
			}

			scenarios, err := loadScenarioSet(scenariosDir, app.config.Execution)
			if err != nil {
				return err
			}

			templateData, err := os.ReadFile(manifestPath)
			if err != nil {
				return errors.Wrapf(err, "failed to read workload manifest %s", manifestPath)
			}

			clusterConfig, err := app.clusterConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			volumes, err := clusterConfig.GetJobVolumes(ctx)
			if err != nil {
				return err
			}
			builder, err := manifest.NewBuilder(templateData, volumes)
			if err != nil {
				return err
			}

			jobOrchestrator := orchestrator.NewOrchestrator(
				app.config.Execution, builder, app.cluster, app.transferChannel())
			statistics, err := jobOrchestrator.Run(ctx, scenarios, runCount)
			if err != nil {
				return err
			}
			statistics.Report(os.Stdout)
			return nil
		},
	}

	cmd.Flags().String("scenarios", "", "Directory with one sub-directory per scenario")
	cmd.Flags().String("manifest", "", "Workload template, defaults to the configured manifest path")
	cmd.Flags().Int("runs", 1, "Number of repetitions per scenario")
	_ = cmd.MarkFlagRequired("scenarios")
	return cmd
}

// loadScenarioSet builds a scenario set from a directory tree: every
// sub-directory holding exactly one .osc file becomes a scenario, keyed by
// the sub-directory name, with the remaining files as variant or auxiliary
// inputs according to the configured file filters.
func loadScenarioSet(scenariosDir string, config configuration.ExecutionConfiguration) (*domain.ScenarioSet, error) {
	entries, err := os.ReadDir(scenariosDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read scenarios directory %s", scenariosDir)
	}

	scenarios := domain.NewScenarioSet()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		scenarioDir := filepath.Join(scenariosDir, entry.Name())
		input, err := loadScenarioInput(scenarioDir, config)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load scenario %s", entry.Name())
		}
		scenarios.Add(entry.Name(), input)
	}
	if scenarios.Len() == 0 {
		return nil, errors.Errorf("no scenarios found under %s", scenariosDir)
	}
	log.Infof("Loaded %d scenarios from %s", scenarios.Len(), scenariosDir)
	return scenarios, nil
}

func loadScenarioInput(scenarioDir string, config configuration.ExecutionConfiguration) (domain.ScenarioInput, error) {
	input := domain.ScenarioInput{}
	err := filepath.Walk(scenarioDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		relativePath, err := filepath.Rel(scenarioDir, path)
		if err != nil {
			return err
		}
		relativePath = filepath.ToSlash(relativePath)
		switch {
		case filepath.Ext(path) == ".osc" && filepath.Dir(relativePath) == ".":
			if input.BasePath != "" {
				return errors.Errorf("multiple scenario definitions in %s", scenarioDir)
			}
			input.BasePath = path
		case matchesAny(config.VariantFileFilter, relativePath):
			input.VariantFiles = append(input.VariantFiles, relativePath)
		case len(config.ScenarioFileFilter) == 0 || matchesAny(config.ScenarioFileFilter, relativePath):
			input.AuxiliaryFiles = append(input.AuxiliaryFiles, relativePath)
		default:
			log.Debugf("Skipping %s, matched by no file filter", relativePath)
		}
		return nil
	})
	if err != nil {
		return input, err
	}
	if input.BasePath == "" {
		return input, errors.Errorf("no .osc scenario definition in %s", scenarioDir)
	}
	return input, nil
}

// matchesAny tests a slash-separated relative path against shell patterns,
// both on the full path and on the file name alone.
func matchesAny(patterns []string, relativePath string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, relativePath); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(relativePath)); ok {
			return true
		}
	}
	return false
}
