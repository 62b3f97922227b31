package cmd

import (
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tokenkit/tokenkit/api"
	"github.com/tokenkit/tokenkit/encodings"
	"github.com/tokenkit/tokenkit/format"
)

func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "encodings [prefix]",
		Aliases: []string{"list", "ls"},
		Short:   "List encodings",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    listHandler,
	}

	return cmd
}

func localEncodings() []api.EncodingInfo {
	registry := encodings.Default()

	var infos []api.EncodingInfo
	for _, def := range registry.Definitions() {
		info := api.EncodingInfo{Name: def.Name, URL: def.URL, Pattern: string(def.Pattern), Special: def.Special}
		if t, ok := registry.Loaded(def.Name); ok {
			info.Loaded = true
			info.Size = t.Vocabulary().Size()
		}

		infos = append(infos, info)
	}

	return infos
}

func listHandler(cmd *cobra.Command, args []string) error {
	infos := localEncodings()
	if remote(cmd) {
		resp, err := api.ClientFromEnvironment().List(cmd.Context())
		if err != nil {
			return err
		}

		infos = resp.Encodings
	}

	var data [][]string
	for _, e := range infos {
		if len(args) > 0 && !strings.HasPrefix(strings.ToLower(e.Name), strings.ToLower(args[0])) {
			continue
		}

		special := make([]string, 0, len(e.Special))
		for name := range e.Special {
			special = append(special, name)
		}
		slices.Sort(special)

		size := "-"
		if e.Loaded {
			size = format.HumanNumber(uint64(e.Size))
		}

		data = append(data, []string{e.Name, e.Pattern, size, strings.Join(special, " ")})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"NAME", "PATTERN", "SIZE", "SPECIAL"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)
	table.AppendBulk(data)
	table.Render()

	return nil
}
