package decode

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ValentinKolb/dFrag/cmd/util"
	"github.com/ValentinKolb/dFrag/lib/message"
	"github.com/ValentinKolb/dFrag/lib/store"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// DecodeCmd feeds fragments into the reassembly store
var DecodeCmd = &cobra.Command{
	Use:   "decode [fragment files...]",
	Short: "Decode fragments and print the reassembled message",
	Long: `Decode fragments with every configured protocol version.

Fragments are read from the given files, or as hex encoded lines from
stdin if no files are given. The progress of every fragment is printed
to stderr, a completed message is printed as JSON to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, _, closeStore, err := util.OpenDecoder()
		if err != nil {
			return err
		}
		defer closeStore()

		stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
		fragments, err := readFragments(args, cmd.InOrStdin(), stderr)
		if err != nil {
			return err
		}

		// a bad fragment is reported and skipped, the others are still decoded
		identity := viper.GetString("identity")
		var failed *multierror.Error
		for _, f := range fragments {
			out, err := d.Decode(f.data, identity)
			if err != nil {
				fmt.Fprintf(stderr, "%s: %v\n", f.name, err)
				failed = multierror.Append(failed, fmt.Errorf("%s: %w", f.name, err))
				continue
			}

			switch out.Status {
			case store.StatusFinished:
				fmt.Fprintf(stderr, "%s: v%d %s fragment %d/%d finished\n",
					f.name, out.Tag, out.TransactionDate.Format("2006-01-02"), out.Index+1, out.Total)
				j, err := message.EncodeJSON(out.Message)
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout, string(j))
			default:
				fmt.Fprintf(stderr, "%s: v%d %s fragment %d/%d %s, missing %v\n",
					f.name, out.Tag, out.TransactionDate.Format("2006-01-02"), out.Index+1, out.Total, out.Status, out.Missing)
			}
		}

		if err := failed.ErrorOrNil(); err != nil {
			return fmt.Errorf("%d of %d fragments could not be decoded: %w", len(failed.Errors), len(fragments), err)
		}
		return nil
	},
}

func init() {
	key := "identity"
	DecodeCmd.Flags().String(key, "", util.WrapString("identity the fragments claim to be sent by"))
}

type fragment struct {
	name string
	data []byte
}

func readFragments(files []string, in io.Reader, stderr io.Writer) ([]fragment, error) {
	if len(files) > 0 {
		fragments := make([]fragment, 0, len(files))
		for _, name := range files {
			data, err := os.ReadFile(name)
			if err != nil {
				return nil, err
			}
			fragments = append(fragments, fragment{name: name, data: data})
		}
		return fragments, nil
	}

	var fragments []fragment
	scanner := bufio.NewScanner(in)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		data, err := hex.DecodeString(text)
		if err != nil {
			// an undecodable line becomes an empty fragment and fails in Decode
			fmt.Fprintf(stderr, "line %d: invalid hex: %v\n", line, err)
			data = nil
		}
		fragments = append(fragments, fragment{name: fmt.Sprintf("line %d", line), data: data})
	}
	return fragments, scanner.Err()
}
