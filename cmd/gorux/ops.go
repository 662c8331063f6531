package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/gorux/hostfunc"
)

func newOpsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the host functions offered to guests",
		Long: `List every host function with its syscall id, import module and
signature. Signature letters: i is a 32-bit word, * a guest pointer,
I a 64-bit integer. Every function returns an i32.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := hostfunc.Builtin()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODULE\tNAME\tSIGNATURE")
			for _, op := range reg.List() {
				fmt.Fprintf(w, "%d\t%s\t%s\t(%s)i\n", op.ID, op.Module, op.Name, op.Sig)
			}
			sc := hostfunc.SyscallOp(reg)
			fmt.Fprintf(w, "-\t%s\t%s\t(%s)i\n", sc.Module, sc.Name, sc.Sig)
			return w.Flush()
		},
	}
}
