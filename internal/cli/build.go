package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var plainFlag bool

var buildCmd = &cobra.Command{
	Use:   "build <id>",
	Short: "Build a workspace for the web and stream its logs",
	Long: `Clear the previous build output, run the web build on the server and stream
its log lines. The command exits with the build's exit code and prints the
preview URL when the build succeeds.

Interrupting the command disconnects the log stream, which stops the build.`,
	Args:    cobra.ExactArgs(1),
	Example: `  flutterbox build <id>
  flutterbox build <id> --plain > build.log`,
	RunE:    runBuild,
}

func init() {
	buildCmd.Flags().BoolVar(&plainFlag, "plain", false, "Print log lines without the elapsed time prefix")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	id := args[0]
	api := getAPIClient()

	ctx, cancel := requestContext(cmd)
	started, err := api.Workspaces.StartBuild(ctx, id)
	cancel()
	if err != nil {
		return err
	}
	debugf("streaming %s", started.Logs)

	w := newLogPrinter(cmd.OutOrStdout(), !plainFlag && isTerminal(cmd.OutOrStdout()))
	code, err := api.Workspaces.StreamBuildLogs(cmd.Context(), id, w.Line)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Build succeeded. Preview:")
	fmt.Fprintln(cmd.OutOrStdout(), api.Workspaces.PreviewURL(started.Preview))
	return nil
}

// logPrinter writes build log lines, prefixed with the elapsed time when a
// person is watching.
type logPrinter struct {
	w      io.Writer
	prefix bool
	start  time.Time
	now    func() time.Time
}

func newLogPrinter(w io.Writer, prefix bool) *logPrinter {
	return &logPrinter{w: w, prefix: prefix, start: time.Now(), now: time.Now}
}

func (p *logPrinter) Line(line string) {
	if !p.prefix {
		fmt.Fprintln(p.w, line)
		return
	}
	d := p.now().Sub(p.start).Truncate(time.Second)
	fmt.Fprintf(p.w, "[%02d:%02d] %s\n", int(d.Minutes()), int(d.Seconds())%60, line)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
