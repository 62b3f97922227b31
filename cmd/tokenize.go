package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tokenkit/tokenkit/api"
	"github.com/tokenkit/tokenkit/format"
	"github.com/tokenkit/tokenkit/tokenizer"
)

// specialFlag returns the special token policy as sent to the server.
func specialFlag(cmd *cobra.Command) string {
	if ordinary, _ := cmd.Flags().GetBool("ordinary"); ordinary {
		return "text"
	}

	allow, _ := cmd.Flags().GetString("allow-special")
	return allow
}

func joinIDs(ids []int32) string {
	var sb strings.Builder
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.FormatInt(int64(id), 10))
	}
	return sb.String()
}

// parseIDs accepts ids separated by spaces or commas, optionally wrapped in
// brackets as printed by JSON encoders.
func parseIDs(s string) ([]int32, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', ',', '[', ']':
			return true
		}
		return false
	})

	ids := make([]int32, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid token id %q", f)
		}

		ids = append(ids, int32(id))
	}

	return ids, nil
}

func EncodeHandler(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	var ids []int32
	if remote(cmd) {
		encoding, model := selection(cmd)
		resp, err := api.ClientFromEnvironment().Tokenize(cmd.Context(), &api.TokenizeRequest{
			Encoding: encoding,
			Model:    model,
			Text:     text,
			Special:  specialFlag(cmd),
		})
		if err != nil {
			return err
		}

		ids = resp.Tokens
	} else {
		cfg, err := tokenizer.ParseSpecialPolicy(specialFlag(cmd))
		if err != nil {
			return err
		}

		t, _, err := localTokenizer(cmd)
		if err != nil {
			return err
		}

		if ids, err = t.Encode(text, cfg); err != nil {
			return err
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), joinIDs(ids))
	return nil
}

func DecodeHandler(cmd *cobra.Command, args []string) error {
	input, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	ids, err := parseIDs(input)
	if err != nil {
		return err
	}

	lossy, _ := cmd.Flags().GetBool("lossy")

	var text string
	if remote(cmd) {
		encoding, model := selection(cmd)
		resp, err := api.ClientFromEnvironment().Detokenize(cmd.Context(), &api.DetokenizeRequest{
			Encoding: encoding,
			Model:    model,
			Tokens:   ids,
			Lossy:    lossy,
		})
		if err != nil {
			return err
		}

		text = resp.Text
	} else {
		t, _, err := localTokenizer(cmd)
		if err != nil {
			return err
		}

		cfg := tokenizer.DecodeConfig{UTF8: tokenizer.UTF8Strict}
		if lossy {
			cfg.UTF8 = tokenizer.UTF8Replace
		}

		if text, err = t.DecodeString(ids, cfg); err != nil {
			return err
		}
	}

	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}

func CountHandler(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	var n int
	var encoding string
	if remote(cmd) {
		enc, model := selection(cmd)
		resp, err := api.ClientFromEnvironment().Count(cmd.Context(), &api.TokenizeRequest{
			Encoding: enc,
			Model:    model,
			Text:     text,
			Special:  specialFlag(cmd),
		})
		if err != nil {
			return err
		}

		n, encoding = resp.Count, resp.Encoding
	} else {
		cfg, err := tokenizer.ParseSpecialPolicy(specialFlag(cmd))
		if err != nil {
			return err
		}

		t, name, err := localTokenizer(cmd)
		if err != nil {
			return err
		}

		if n, err = t.Count(text, cfg); err != nil {
			return err
		}
		encoding = name
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		fmt.Fprintf(cmd.OutOrStdout(), "encoding: %s\ntokens:   %d\nbytes:    %d\nratio:    %s\n", encoding, n, len(text), format.Ratio(len(text), n))
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}

func PiecesHandler(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := tokenizer.ParseSpecialPolicy(specialFlag(cmd))
	if err != nil {
		return err
	}

	t, _, err := localTokenizer(cmd)
	if err != nil {
		return err
	}

	ids, err := t.Encode(text, cfg)
	if err != nil {
		return err
	}

	vocab := t.Vocabulary()

	var data [][]string
	for _, id := range ids {
		piece, _ := vocab.Piece(id)

		kind := ""
		if vocab.IsSpecial(id) {
			kind = "special"
		}

		data = append(data, []string{strconv.FormatInt(int64(id), 10), strconv.Quote(string(piece)), strconv.Itoa(len(piece)), kind})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"ID", "PIECE", "BYTES", ""})
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
