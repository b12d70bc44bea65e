package cli

import (
	"fmt"

	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSetupCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Download and verify speech model assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolved, err := whisper.ResolveModel(app.cfg.Model, app.cfg.ModelDir)
			if err != nil {
				return err
			}
			if resolved.IsCustomPath {
				return fmt.Errorf("setup expects a named model; got custom path %s", resolved.Path)
			}

			opts := app.loadOptions()
			opts.AutoDownload = true
			opts.VerifyChecksum = true

			wasPresent := !resolved.NeedsDownload
			ready, err := app.ensureModelFn(cmd.Context(), opts)
			if err != nil {
				return err
			}

			if wasPresent {
				app.log().Info("model already present", zap.String("model", ready.Name), zap.String("path", ready.Path))
				fmt.Fprintf(cmd.OutOrStdout(), "Model %s ready at %s\n", ready.Name, ready.Path)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Model %s installed at %s\n", ready.Name, ready.Path)
			return nil
		},
	}
}
