package sweep

import (
	"fmt"

	"github.com/ValentinKolb/dFrag/cmd/util"
	"github.com/spf13/cobra"
)

// SweepCmd removes expired fragments from the configured store
var SweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired fragments from the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, s, closeStore, err := util.OpenDecoder()
		if err != nil {
			return err
		}
		defer closeStore()

		n, err := s.SweepExpired()
		if err != nil {
			return err
		}
		info, err := s.Info()
		if err != nil {
			return err
		}

		fmt.Printf("removed %d expired fragments\n", n)
		fmt.Printf("%s store: %d fragments in %d transactions, %d bytes\n", info.Backend, info.Rows, info.Keys, info.SizeBytes)
		return nil
	},
}
