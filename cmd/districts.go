package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/districtmatch/internal/dataset"
)

var (
	districtsYear   int
	districtsSearch string
	districtsJSON   bool
)

var districtsCmd = &cobra.Command{
	Use:   "districts",
	Short: "List the districts of a year",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		year := c.DefaultYear
		if cmd.Flags().Changed("year") {
			year = districtsYear
		}
		st, err := newEngine(c)
		if err != nil {
			return err
		}
		yd, err := st.engine.Source().Load(cmd.Context(), year)
		if err != nil {
			return err
		}
		choices := dataset.DistrictChoices(yd.Table)
		if q := strings.ToLower(strings.TrimSpace(districtsSearch)); q != "" {
			kept := choices[:0]
			for _, ch := range choices {
				if strings.Contains(strings.ToLower(ch.Label), q) || ch.ID == dataset.NormalizeID(q) {
					kept = append(kept, ch)
				}
			}
			choices = kept
		}

		out := cmd.OutOrStdout()
		if districtsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(choices)
		}
		if len(choices) == 0 {
			fmt.Fprintln(out, "(no districts)")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DISTRICT_ID\tDISTRICT\tCOUNTY")
		for _, ch := range choices {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", ch.ID, dataset.TitleCase(ch.Label), dataset.TitleCase(ch.County))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(districtsCmd)
	districtsCmd.Flags().IntVarP(&districtsYear, "year", "y", 0, "reporting year (default from config)")
	districtsCmd.Flags().StringVarP(&districtsSearch, "search", "s", "", "case-insensitive name filter or exact district id")
	districtsCmd.Flags().BoolVar(&districtsJSON, "json", false, "print JSON instead of a table")
}
