package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the protocols the resolver knows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := loadCatalog(loadConfig().CatalogPath)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tALIASES")
		for _, e := range catalog.Entries() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CanonicalID, e.DisplayName, e.Category, strings.Join(e.Aliases, ", "))
		}
		return w.Flush()
	},
}
