package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/districtmatch/internal/dataset"
	"github.com/KaramelBytes/districtmatch/internal/match"
	"github.com/KaramelBytes/districtmatch/internal/utils"
)

var (
	matchYear      int
	matchBuckets   []string
	matchNeighbors int
	matchMetric    string
	matchImpute    string
	matchFill      float64
	matchFormat    string
	matchOutput    string
	matchDataOut   string
	matchExtraCols []string
)

var matchCmd = &cobra.Command{
	Use:   "match <district>",
	Short: "Find the districts most similar to a target district",
	Long: `Find the districts most similar to a target district.

The district is a TEA district id (leading apostrophes and zeros are ignored) or a
district name as listed by the districts command. The target is always the first
row of the result and counts toward --neighbors.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		q := match.Query{
			Year:       c.DefaultYear,
			DistrictID: args[0],
			Buckets:    matchBuckets,
			Neighbors:  c.DefaultNeighbors,
			Metric:     c.DefaultMetric,
			Impute:     c.DefaultImpute,
			FillValue:  matchFill,
		}
		f := cmd.Flags()
		if f.Changed("year") {
			q.Year = matchYear
		}
		if f.Changed("neighbors") {
			q.Neighbors = matchNeighbors
		}
		if f.Changed("metric") {
			q.Metric = matchMetric
		}
		if f.Changed("impute") {
			q.Impute = matchImpute
		}
		switch matchFormat {
		case "table", "json", "markdown":
		default:
			return fmt.Errorf("unsupported --format: %s (use table|json|markdown)", matchFormat)
		}

		st, err := newEngine(c)
		if err != nil {
			return err
		}
		eng := st.engine
		if err := eng.Validate(q); err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if _, err := strconv.Atoi(dataset.NormalizeID(q.DistrictID)); err != nil {
			yd, err := eng.Source().Load(ctx, q.Year)
			if err != nil {
				return err
			}
			q.DistrictID = resolveDistrict(yd.Table, q.DistrictID)
		}

		res, err := eng.Match(ctx, q)
		if err != nil {
			return err
		}
		if len(res.EmptyBuckets) > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "⚠ Warning: no data in %d for: %s\n", q.Year, strings.Join(res.EmptyBuckets, ", "))
		}

		if matchOutput == "" {
			if err := renderResult(cmd.OutOrStdout(), res, matchFormat); err != nil {
				return err
			}
		} else {
			var buf bytes.Buffer
			if err := renderResult(&buf, res, matchFormat); err != nil {
				return err
			}
			if err := utils.SafeWriteFile(matchOutput, buf.Bytes()); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %d neighbors to %s\n", len(res.Neighbors), matchOutput)
		}

		if matchDataOut != "" {
			sub, err := res.NeighborData(matchExtraCols...)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := sub.WriteCSV(&buf); err != nil {
				return err
			}
			if err := utils.SafeWriteFile(matchDataOut, buf.Bytes()); err != nil {
				return fmt.Errorf("write neighbor data: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote neighbor data (%d columns) to %s\n", len(sub.Columns()), matchDataOut)
		}
		return nil
	},
}

func renderResult(w io.Writer, res *match.Result, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"year":            res.Year,
			"metric":          res.Metric,
			"impute_strategy": res.Impute,
			"buckets":         res.Buckets,
			"labels":          res.Labels,
			"columns":         res.Columns,
			"empty_buckets":   res.EmptyBuckets,
			"neighbors":       res.Neighbors,
		})
	case "markdown":
		_, err := io.WriteString(w, res.Markdown())
		return err
	default:
		return res.WriteTable(w)
	}
}

// resolveDistrict maps a district name or "NAME (COUNTY)" label to its id.
// Anything that is not a unique name is returned unchanged and treated as
// an id.
func resolveDistrict(t *dataset.Table, arg string) string {
	if len(t.Lookup(arg)) > 0 {
		return arg
	}
	var hits []string
	for _, ch := range dataset.DistrictChoices(t) {
		if strings.EqualFold(ch.Label, arg) {
			return ch.ID
		}
		if strings.EqualFold(ch.Name, arg) {
			hits = append(hits, ch.ID)
		}
	}
	if len(hits) == 1 {
		return hits[0]
	}
	return arg
}

func init() {
	rootCmd.AddCommand(matchCmd)
	matchCmd.Flags().IntVarP(&matchYear, "year", "y", 0, "reporting year (default from config)")
	matchCmd.Flags().StringSliceVarP(&matchBuckets, "buckets", "b", nil, "comma-separated feature buckets (repeatable)")
	matchCmd.Flags().IntVarP(&matchNeighbors, "neighbors", "n", 0, "number of districts to return, target included (default from config)")
	matchCmd.Flags().StringVarP(&matchMetric, "metric", "m", "", "distance metric: euclidean|manhattan|mahalanobis|cosine|canberra")
	matchCmd.Flags().StringVar(&matchImpute, "impute", "", "missing value strategy: mean|median|most_frequent|constant")
	matchCmd.Flags().Float64Var(&matchFill, "fill-value", 0, "fill value for --impute constant")
	matchCmd.Flags().StringVar(&matchFormat, "format", "table", "output format: table|json|markdown")
	matchCmd.Flags().StringVarP(&matchOutput, "output", "o", "", "optional path to write the result")
	matchCmd.Flags().StringVar(&matchDataOut, "data-out", "", "optional CSV path for the neighbors' identifier and feature columns")
	matchCmd.Flags().StringSliceVar(&matchExtraCols, "with-columns", nil, "extra dataset columns for --data-out")
	_ = matchCmd.MarkFlagRequired("buckets")
}
