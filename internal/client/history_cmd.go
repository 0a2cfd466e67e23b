package client

import (
	"fmt"
	"slices"

	"chatify/internal/storage"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <identity> [peer]",
	Short: "Print stored conversations without connecting",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := storage.NewBboltStorage(cfg.StateDB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		log := db.LoadConversationLog(args[0])
		out := cmd.OutOrStdout()
		session := NewSession(out, 0, false)

		if len(args) == 2 {
			for _, m := range log[args[1]] {
				fmt.Fprintln(out, session.formatMessage(m))
			}
			return nil
		}

		if len(log) == 0 {
			fmt.Fprintf(out, "no stored conversations for %s\n", args[0])
			return nil
		}
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"Peer", "Messages", "Last"})
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		peers := lo.Keys(log)
		slices.Sort(peers)
		for _, peer := range peers {
			messages := log[peer]
			last := ""
			if len(messages) > 0 {
				last = messages[len(messages)-1].Time
			}
			table.Append([]string{peer, fmt.Sprint(len(messages)), last})
		}
		table.Render()
		return nil
	},
}
