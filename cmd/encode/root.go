package encode

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/dFrag/cmd/util"
	"github.com/ValentinKolb/dFrag/lib/message"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EncodeCmd encodes one JSON message into fragments
var EncodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Encode a JSON message into fragments",
	Long: `Encode a JSON message with the current protocol version.

Without --out every fragment is printed as one hex encoded line,
otherwise the fragments are written to <out>/frag-<i>.bin.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := util.OpenEncoder()
		if err != nil {
			return err
		}

		date, err := parseDate(viper.GetString("date"))
		if err != nil {
			return err
		}

		data, err := readInput(viper.GetString("in"), cmd.InOrStdin())
		if err != nil {
			return err
		}
		msg, err := message.DecodeJSON(data, c.Body().Schema())
		if err != nil {
			return err
		}

		fragments, err := c.Encode(viper.GetString("identity"), date, msg)
		if err != nil {
			return err
		}

		out := viper.GetString("out")
		if out == "" {
			for _, f := range fragments {
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(f))
			}
			return nil
		}

		if err := os.MkdirAll(out, 0o755); err != nil {
			return err
		}
		for i, f := range fragments {
			name := filepath.Join(out, fmt.Sprintf("frag-%d.bin", i))
			if err := os.WriteFile(name, f, 0o644); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d fragments of %d bytes max to %s\n", len(fragments), c.PayloadSize()+c.Header().Len(), out)
		return nil
	},
}

func init() {
	key := "identity"
	EncodeCmd.Flags().String(key, "", util.WrapString("identity of the sender, bound into every fragment"))
	key = "date"
	EncodeCmd.Flags().String(key, "", util.WrapString("transaction date (YYYY-MM-DD), defaults to today (UTC)"))
	key = "in"
	EncodeCmd.Flags().String(key, "-", util.WrapString("JSON file with the message, - reads stdin"))
	key = "out"
	EncodeCmd.Flags().String(key, "", util.WrapString("directory to write the fragment files to"))
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
