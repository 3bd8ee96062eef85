package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/groveworks/canopy/internal/model"
	"github.com/groveworks/canopy/pkg/vision"
)

var (
	observeType     string
	observeLat      float64
	observeLon      float64
	observeNotes    string
	observeImageURL string
	observeOwner    string
)

var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Submit a single field observation",
	Long: `Resolves one capture against the registry and records it. When an
image URL and a configured classifier are both present, the photo is
classified first and the verdict folded into the record status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		ctx := cmd.Context()
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Store.Migrate(ctx); err != nil {
			return err
		}

		req := &model.ObservationRequest{
			DeclaredType: observeType,
			GPS:          model.GPS{Latitude: observeLat, Longitude: observeLon},
			Notes:        observeNotes,
		}

		if observeImageURL != "" && e.Classifier != nil {
			result, err := e.Classifier.Classify(ctx, vision.Request{
				ImageURL:     observeImageURL,
				DeclaredType: observeType,
			})
			if err != nil {
				return err
			}
			if result.Status == vision.StatusOK {
				req.Verdict = result.Verdict
			}
		}

		owner := model.OwnerInfo{Email: observeOwner}
		result, obs, err := e.Pipeline.SubmitObservation(ctx, owner, req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"result":      result,
			"observation": obs,
		})
	},
}

func init() {
	observeCmd.Flags().StringVar(&observeType, "type", "", "declared tree type")
	observeCmd.Flags().Float64Var(&observeLat, "lat", 0, "latitude in degrees")
	observeCmd.Flags().Float64Var(&observeLon, "lon", 0, "longitude in degrees")
	observeCmd.Flags().StringVar(&observeNotes, "notes", "", "free-text notes")
	observeCmd.Flags().StringVar(&observeImageURL, "image-url", "", "photo URL to classify")
	observeCmd.Flags().StringVar(&observeOwner, "owner", "", "owner email")
	_ = observeCmd.MarkFlagRequired("lat")
	_ = observeCmd.MarkFlagRequired("lon")
	_ = observeCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(observeCmd)
}
