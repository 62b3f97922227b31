package cmd

import (
	"cmp"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tokenkit/tokenkit/api"
	"github.com/tokenkit/tokenkit/format"
	"github.com/tokenkit/tokenkit/progress"
)

func NewPullCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:     "pull [encoding]",
		Short:   "Download and verify an encoding's rank file",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    pullHandler,
	}

	return &cmd
}

func pullHandler(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		if err := cmd.Flags().Set("encoding", args[0]); err != nil {
			return err
		}
	}

	if remote(cmd) {
		encoding, model := selection(cmd)

		p := newPullProgress(cmd.ErrOrStderr())
		defer p.stop()

		return api.ClientFromEnvironment().Pull(cmd.Context(), &api.PullRequest{Encoding: encoding, Model: model}, func(resp api.ProgressResponse) error {
			p.update(resp)
			return nil
		})
	}

	_, _, err := localTokenizer(cmd)
	return err
}

// pullProgress draws rank file downloads: a bar when the size is known,
// a spinner with the bytes so far when it is not. It stays silent unless w
// is a terminal.
type pullProgress struct {
	w io.Writer
	p *progress.Progress

	bars     map[string]*progress.Bar
	spinners map[string]*progress.Spinner
}

func newPullProgress(w io.Writer) *pullProgress {
	if f, ok := w.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		w = nil
	}

	return &pullProgress{
		w:        w,
		bars:     make(map[string]*progress.Bar),
		spinners: make(map[string]*progress.Spinner),
	}
}

func (pp *pullProgress) update(resp api.ProgressResponse) {
	if pp.w == nil || resp.Status == "" || resp.Status == "success" {
		return
	}

	if pp.p == nil {
		pp.p = progress.NewProgress(pp.w)
	}

	key := cmp.Or(resp.Digest, resp.Status)
	if resp.Total <= 0 {
		message := resp.Status
		if resp.Completed > 0 {
			message += " " + format.HumanBytes(resp.Completed)
		}

		if spinner, ok := pp.spinners[key]; ok {
			spinner.SetMessage(message)
			return
		}

		spinner := progress.NewSpinner(message)
		pp.spinners[key] = spinner
		pp.p.Add(key, spinner)
		return
	}

	bar, ok := pp.bars[key]
	if !ok {
		bar = progress.NewBar(resp.Status, resp.Total, resp.Completed)
		pp.bars[key] = bar
		pp.p.Add(key, bar)
	}

	bar.SetTotal(resp.Total)
	bar.Set(resp.Completed)
}

func (pp *pullProgress) stop() {
	if pp.p != nil {
		pp.p.Stop()
	}
}
