// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jeranaias/deepagro/internal/advisor"
)

func newPredictCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Recommend a crop or a fertilizer from soil readings",
	}
	cmd.AddCommand(newPredictCropCmd(app), newPredictFertilizerCmd(app))
	return cmd
}

// soilFlags registers the nutrient and pH flags shared by both predictions.
func soilFlags(fs *pflag.FlagSet, n, p, k, ph *float64) {
	fs.Float64VarP(n, "nitrogen", "N", 0, "nitrogen (N) content")
	fs.Float64VarP(p, "phosphorus", "P", 0, "phosphorus (P) content")
	fs.Float64VarP(k, "potassium", "K", 0, "potassium (K) content")
	fs.Float64Var(ph, "ph", 0, "soil pH (0-14)")
}

func newPredictCropCmd(app *App) *cobra.Command {
	var in advisor.CropInput

	cmd := &cobra.Command{
		Use:   "crop",
		Short: "Predict the best crop for your soil and climate",
		Example: `  deepagro predict crop -N 90 -P 42 -K 43 --temperature 20.8 \
      --humidity 82 --ph 6.5 --rainfall 202.9`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pred, err := app.advisorClient().PredictCrop(ctx, in)
			if err != nil {
				return NewCommandError("predict", "crop", err)
			}
			app.record(ctx, app.optionalUser(ctx), advisor.CropRecord(in, pred))

			tr := app.translator()
			return app.emit("predict crop", map[string]any{
				"input":      in,
				"crop":       pred.Crop,
				"confidence": pred.Confidence(),
				"top3":       pred.Top3,
			}, func(w io.Writer) {
				fmt.Fprintln(w, TitleStyle.Render(tr.T("prediction_complete")))
				fmt.Fprintln(w, "  "+SuccessStyle.Render(tr.T("best_crop", "crop", pred.Crop)))
				if len(pred.Top3) > 0 {
					fmt.Fprintln(w)
					rows := make([][]string, len(pred.Top3))
					for i, s := range pred.Top3 {
						rows[i] = []string{fmt.Sprint(i + 1), s.Crop, formatPercent(s.Confidence)}
					}
					table(w, GetTerminalWidth(), []string{"#", "CROP", "CONFIDENCE"}, []int{3, 0, 10}, rows)
				}
			})
		},
	}

	fs := cmd.Flags()
	soilFlags(fs, &in.N, &in.P, &in.K, &in.PH)
	fs.Float64Var(&in.Temperature, "temperature", 0, "temperature in °C (0-50)")
	fs.Float64Var(&in.Humidity, "humidity", 0, "relative humidity in % (0-100)")
	fs.Float64Var(&in.Rainfall, "rainfall", 0, "rainfall in mm")
	for _, name := range []string{"nitrogen", "phosphorus", "potassium", "ph", "temperature", "humidity", "rainfall"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newPredictFertilizerCmd(app *App) *cobra.Command {
	var in advisor.FertilizerInput

	cmd := &cobra.Command{
		Use:   "fertilizer",
		Short: "Recommend a fertilizer for your soil",
		Example: `  deepagro predict fertilizer --temperature 26 --humidity 52 \
      --moisture 38 -N 37 -P 0 -K 0 --ph 6.8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pred, err := app.advisorClient().PredictFertilizer(ctx, in)
			if err != nil {
				return NewCommandError("predict", "fertilizer", err)
			}
			app.record(ctx, app.optionalUser(ctx), advisor.FertilizerRecord(in, pred))

			tr := app.translator()
			return app.emit("predict fertilizer", map[string]any{
				"input":      in,
				"fertilizer": pred.Fertilizer,
			}, func(w io.Writer) {
				fmt.Fprintln(w, TitleStyle.Render(tr.T("recommendation_ready")))
				fmt.Fprintln(w, "  "+SuccessStyle.Render(tr.T("best_fertilizer", "fertilizer", pred.Fertilizer)))
			})
		},
	}

	fs := cmd.Flags()
	soilFlags(fs, &in.N, &in.P, &in.K, &in.PH)
	fs.Float64Var(&in.Temperature, "temperature", 0, "temperature in °C")
	fs.Float64Var(&in.Humidity, "humidity", 0, "relative humidity in % (0-100)")
	fs.Float64Var(&in.Moisture, "moisture", 0, "soil moisture in % (0-100)")
	for _, name := range []string{"nitrogen", "phosphorus", "potassium", "ph", "temperature", "humidity", "moisture"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newDiseaseCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "disease <image>",
		Short:   "Detect plant disease from a leaf photo",
		Example: `  deepagro disease ./tomato-leaf.jpg`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return NewCommandError("disease", "", err)
			}
			defer f.Close()

			name := filepath.Base(args[0])
			res, err := app.advisorClient().DetectDisease(ctx, name, f)
			if err != nil {
				return NewCommandError("disease", "", err)
			}
			app.record(ctx, app.optionalUser(ctx), advisor.DiseaseRecord(name, res))

			tr := app.translator()
			return app.emit("disease", map[string]any{
				"image":      name,
				"disease":    res.Disease,
				"confidence": res.Confidence,
			}, func(w io.Writer) {
				fmt.Fprintln(w, TitleStyle.Render(tr.T("analysis_complete")))
				fmt.Fprintln(w, "  "+SuccessStyle.Render(tr.T("disease_detected", "disease", res.Disease)))
				if res.Confidence > 0 {
					printField(w, tr.T("confidence"), formatPercent(res.Confidence))
				}
			})
		},
	}
}
