package app

import (
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"maskfeat/pkg/features"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "List the available features",
	Long: `List every feature name accepted by --features and features.names, with the
input it is computed from and the group selecting it. A group name selects
all of its members.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeCatalog(cmd.OutOrStdout())
	},
}

func writeCatalog(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Feature", "Input", "Group")

	catalog := features.Catalog()
	rows := make([][]string, 0, len(catalog))
	for _, d := range catalog {
		rows = append(rows, []string{d.Name, d.Shape.String(), d.Group})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}
