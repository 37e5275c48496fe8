package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/districtmatch/internal/buckets"
	"github.com/KaramelBytes/districtmatch/internal/dataset"
	"github.com/KaramelBytes/districtmatch/internal/utils"
)

var (
	profYear    int
	profBuckets []string
	profOutput  string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Summarize the columns of a bucket selection",
	Long: `Summarize the feature columns a match over the given buckets would use:
missing values, negative values, ranges and pairwise correlations. Highly
collinear pairs are reported because they make mahalanobis unavailable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		year := c.DefaultYear
		if cmd.Flags().Changed("year") {
			year = profYear
		}
		st, err := newEngine(c)
		if err != nil {
			return err
		}
		reg := st.engine.Registry()
		keys := profBuckets
		if len(keys) == 0 {
			keys = reg.FeatureKeys()
		}
		if err := reg.Validate(keys); err != nil {
			return err
		}
		yd, err := st.engine.Source().Load(cmd.Context(), year)
		if err != nil {
			return err
		}
		res, err := buckets.Resolve(reg, yd.Labels, keys)
		if err != nil {
			return err
		}
		var cols []string
		for _, col := range res.Columns {
			if yd.Table.Has(col) {
				cols = append(cols, col)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠ Warning: column %q is in the label key but not in the %d data\n", col, year)
			}
		}
		p, err := dataset.ProfileColumns(yd.Table, cols)
		if err != nil {
			return err
		}
		md := p.Markdown()

		if profOutput != "" {
			if err := utils.SafeWriteFile(profOutput, []byte(md)); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote profile to %s\n", profOutput)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), md)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.Flags().IntVarP(&profYear, "year", "y", 0, "reporting year (default from config)")
	profileCmd.Flags().StringSliceVarP(&profBuckets, "buckets", "b", nil, "buckets to profile (default: all feature buckets)")
	profileCmd.Flags().StringVarP(&profOutput, "output", "o", "", "optional path to write the profile (Markdown)")
}
