package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/districtmatch/internal/buckets"
)

var (
	bucketsYear    int
	bucketsColumns bool
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List feature buckets",
	Long: `List the feature buckets that can be passed to match --buckets.

With --year, each bucket is resolved against that year's label key and the
number of available columns is shown; buckets with no columns cannot be used
that year.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		reg, err := loadRegistry(c)
		if err != nil {
			return err
		}
		var resolved map[string][]string
		if cmd.Flags().Changed("year") {
			st, err := newEngine(c)
			if err != nil {
				return err
			}
			yd, err := st.engine.Source().Load(cmd.Context(), bucketsYear)
			if err != nil {
				return err
			}
			resolved = buckets.ResolveAll(reg, yd.Labels)
		}

		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		if resolved != nil {
			fmt.Fprintf(tw, "KEY\tLABEL\tCOLUMNS (%d)\n", bucketsYear)
		} else {
			fmt.Fprintln(tw, "KEY\tLABEL\tCOLUMNS")
		}
		for _, k := range reg.FeatureKeys() {
			b, _ := reg.Bucket(k)
			n := len(b.Columns)
			if resolved != nil {
				n = len(resolved[k])
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\n", b.Key, b.Label, n)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if bucketsColumns && resolved != nil {
			for _, k := range reg.FeatureKeys() {
				fmt.Fprintf(out, "\n%s:\n", k)
				for _, col := range resolved[k] {
					fmt.Fprintf(out, "  • %s\n", col)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bucketsCmd)
	bucketsCmd.Flags().IntVarP(&bucketsYear, "year", "y", 0, "resolve buckets against this year's label key")
	bucketsCmd.Flags().BoolVar(&bucketsColumns, "columns", false, "with --year, list the resolved columns of each bucket")
}
