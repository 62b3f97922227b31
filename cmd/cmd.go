package cmd

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tokenkit/tokenkit/api"
	"github.com/tokenkit/tokenkit/encodings"
	"github.com/tokenkit/tokenkit/envconfig"
	"github.com/tokenkit/tokenkit/logutil"
	"github.com/tokenkit/tokenkit/server"
	"github.com/tokenkit/tokenkit/tokenizer"
	"github.com/tokenkit/tokenkit/version"
)

// DefaultEncoding is used when neither --encoding nor --model is given.
const DefaultEncoding = "cl100k_base"

var errNoInput = errors.New("no input: pass text as arguments or pipe it on stdin")

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// readInput joins args, or reads stdin when no args are given and stdin is
// not a terminal.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errNoInput
	}

	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}

	if len(b) == 0 {
		return "", errNoInput
	}

	return string(b), nil
}

// selection returns the encoding and model flags, defaulting the encoding
// when both are empty.
func selection(cmd *cobra.Command) (encoding, model string) {
	encoding, _ = cmd.Flags().GetString("encoding")
	model, _ = cmd.Flags().GetString("model")
	if encoding == "" && model == "" {
		encoding = DefaultEncoding
	}

	return encoding, model
}

func remote(cmd *cobra.Command) bool {
	remote, _ := cmd.Flags().GetBool("remote")
	return remote
}

// localTokenizer loads the selected encoding in process, showing download
// progress on a terminal.
func localTokenizer(cmd *cobra.Command) (*tokenizer.Tokenizer, string, error) {
	encoding, model := selection(cmd)

	p := newPullProgress(cmd.ErrOrStderr())
	defer p.stop()

	ctx := encodings.WithProgress(cmd.Context(), p.update)
	return encodings.Default().Resolve(ctx, encoding, model)
}

func checkServerHeartbeat(cmd *cobra.Command, _ []string) error {
	if !remote(cmd) {
		return nil
	}

	client := api.ClientFromEnvironment()
	if err := client.Heartbeat(cmd.Context()); err != nil {
		return fmt.Errorf("could not reach tokenkit server at %s: %w", envconfig.Host(), err)
	}

	return nil
}

func RunServer(_ *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	return server.Serve(ln)
}

func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "tokenkit",
		Short:         "Byte pair encoding tokenizer for tiktoken vocabularies",
		SilenceUsage:  true,
		SilenceErrors: false,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logutil.Install(os.Stderr, envconfig.LogLevel())
		},
		Version: version.Version,
	}

	rootCmd.SetVersionTemplate("tokenkit version {{.Version}}\n")

	encodeCmd := &cobra.Command{
		Use:     "encode [text...]",
		Short:   "Convert text to token ids",
		PreRunE: checkServerHeartbeat,
		RunE:    EncodeHandler,
	}
	encodeCmd.Flags().String("allow-special", "none", "Special tokens to accept: all, none, or a comma separated list")
	encodeCmd.Flags().Bool("ordinary", false, "Treat special token text as ordinary text")

	decodeCmd := &cobra.Command{
		Use:     "decode [id...]",
		Short:   "Convert token ids to text",
		PreRunE: checkServerHeartbeat,
		RunE:    DecodeHandler,
	}
	decodeCmd.Flags().Bool("lossy", false, "Replace invalid UTF-8 with U+FFFD instead of failing")

	countCmd := &cobra.Command{
		Use:     "count [text...]",
		Short:   "Count the tokens in text",
		PreRunE: checkServerHeartbeat,
		RunE:    CountHandler,
	}
	countCmd.Flags().String("allow-special", "none", "Special tokens to accept: all, none, or a comma separated list")
	countCmd.Flags().Bool("ordinary", false, "Treat special token text as ordinary text")
	countCmd.Flags().BoolP("verbose", "v", false, "Show input size and bytes per token")

	piecesCmd := &cobra.Command{
		Use:   "pieces [text...]",
		Short: "Show each token id with the bytes it covers",
		RunE:  PiecesHandler,
	}
	piecesCmd.Flags().String("allow-special", "none", "Special tokens to accept: all, none, or a comma separated list")
	piecesCmd.Flags().Bool("ordinary", false, "Treat special token text as ordinary text")

	listCmd := NewListCmd()
	pullCmd := NewPullCmd()

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the tokenkit server",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print an example config.toml",
		Args:  cobra.ExactArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), envconfig.ExampleConfig())
		},
	}

	envVars := envconfig.AsMap()
	for _, cmd := range []*cobra.Command{encodeCmd, decodeCmd, countCmd, piecesCmd, pullCmd} {
		cmd.Flags().StringP("encoding", "e", "", "Encoding name (default "+DefaultEncoding+")")
		cmd.Flags().StringP("model", "m", "", "Model name used to pick the encoding")
	}

	for _, cmd := range []*cobra.Command{encodeCmd, decodeCmd, countCmd, listCmd, pullCmd} {
		cmd.Flags().Bool("remote", false, "Send the request to a running tokenkit server")
		appendEnvDocs(cmd, []envconfig.EnvVar{envVars["TOKENKIT_HOST"], envVars["TOKENKIT_CACHE_DIR"], envVars["TOKENKIT_OFFLINE"]})
	}

	appendEnvDocs(piecesCmd, []envconfig.EnvVar{envVars["TOKENKIT_CACHE_DIR"], envVars["TOKENKIT_OFFLINE"]})

	appendEnvDocs(serveCmd, []envconfig.EnvVar{
		envVars["TOKENKIT_DEBUG"],
		envVars["TOKENKIT_HOST"],
		envVars["TOKENKIT_ORIGINS"],
		envVars["TOKENKIT_CACHE_DIR"],
		envVars["TOKENKIT_OFFLINE"],
		envVars["TOKENKIT_PIECE_CACHE"],
		envVars["TOKENKIT_NO_PIECE_CACHE"],
		envVars["TOKENKIT_MAX_INPUT"],
		envVars["TOKENKIT_NUM_PARALLEL"],
		envVars["TOKENKIT_CONFIG"],
	})

	rootCmd.AddCommand(
		encodeCmd,
		decodeCmd,
		countCmd,
		piecesCmd,
		listCmd,
		pullCmd,
		serveCmd,
		configCmd,
	)

	return rootCmd
}
