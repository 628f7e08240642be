package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/remote"
	"github.com/steveyegge/docgallery/internal/remote/code"
	"github.com/steveyegge/docgallery/internal/remote/github"
	"github.com/steveyegge/docgallery/internal/remote/redis"
	"github.com/steveyegge/docgallery/internal/remote/s3"
	"github.com/steveyegge/docgallery/internal/sync"
	"github.com/steveyegge/docgallery/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync the collection with a remote",
	Long: `Sync merges the local collection with a remote blob.

For every document the newer copy wins; on a tie the local copy is kept.
Documents deleted on one side are not deleted on the other.

Run 'dg sync setup' once, then 'dg sync' (or 'dg sync run') whenever you
want to exchange changes. DG_SYNC_TOKEN overrides the stored credential.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd)
	},
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sync cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd)
	},
}

func runSync(cmd *cobra.Command) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.syncer().Sync(cmd.Context())
	printSyncResult(printer(cmd), res, err)
	if err != nil {
		return errors.New(sync.Message(err))
	}
	return nil
}

func printSyncResult(p *ui.Printer, res *sync.Result, err error) {
	if res != nil {
		for _, w := range res.Warnings {
			p.Warn("%s", w)
		}
		if res.LocalSaveErr != nil {
			p.Warn("Merged data was not saved locally: %v", res.LocalSaveErr)
		}
	}
	if err != nil {
		return
	}

	p.Success("%s", sync.Message(nil))
	if !res.RemoteExisted {
		p.Info("Remote was empty; uploaded %d document(s)", res.Written)
		return
	}
	if len(res.Overwritten) > 0 {
		p.Info("Took %d newer document(s) from the remote", len(res.Overwritten))
	} else {
		p.Muted("No newer documents on the remote")
	}
	p.Muted("Wrote %d document(s) in %s", res.Written, res.Duration().Round(time.Millisecond))
}

var syncSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure the sync remote",
	Long: `Configure where the collection syncs to.

Backends and their locators:

  github  owner/repo[@branch][:path]  token needs contents write access
  gist    gist id, or empty to create a gist on first sync
  s3      bucket/key                  token is ACCESS_KEY:SECRET[:SESSION]
  redis   redis://host:port/db#key    token is the password
  code    6-character sync code       local only, no token

Without --backend an interactive form is shown when stdin is a terminal.
The token is read from stdin with --token-stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _ := cmd.Flags().GetString("backend")
		locator, _ := cmd.Flags().GetString("locator")
		tokenStdin, _ := cmd.Flags().GetBool("token-stdin")
		noTest, _ := cmd.Flags().GetBool("no-test")

		var token string
		switch {
		case backend == "" && isTerminal(os.Stdin):
			var err error
			backend, locator, token, err = setupForm()
			if err != nil {
				return err
			}
		case backend == "":
			return fmt.Errorf("--backend is required when stdin is not a terminal")
		case tokenStdin:
			var err error
			token, err = readToken(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
		}

		sc, err := buildSyncConfig(backend, locator, token)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := validateClient(a.factory, sc); err != nil {
			return err
		}
		if prev := a.store.LoadSyncConfig(cmd.Context()); prev.Backend == sc.Backend && prev.Locator == sc.Locator {
			sc.LastSyncAt = prev.LastSyncAt
		}
		if err := a.store.SaveSyncConfig(cmd.Context(), sc); err != nil {
			return err
		}

		p := printer(cmd)
		p.Success("Sync configured: %s %s", sc.Backend, displayLocator(sc))
		if noTest {
			return nil
		}
		return testConnection(cmd.Context(), p, a)
	},
}

var syncTeardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Remove the sync configuration",
	Long: `Remove the stored backend, locator and credential. Local documents and
the remote data are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sc := a.store.LoadSyncConfig(cmd.Context())
		sc.Reset()
		if err := a.store.SaveSyncConfig(cmd.Context(), sc); err != nil {
			return err
		}
		printer(cmd).Success("Sync disabled")
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		p := printer(cmd)
		sc := a.store.LoadSyncConfig(cmd.Context()).Redacted()
		if !sc.Configured() {
			p.Warn("%s", sync.Message(sync.ErrNotConfigured))
		} else {
			p.Field("Backend", sc.Backend)
			p.Field("Locator", displayLocator(sc))
			credential := sc.Credential
			switch {
			case cfg.Sync.Token != "":
				credential = "from DG_SYNC_TOKEN"
			case credential == "":
				credential = "none"
			}
			p.Field("Credential", credential)
		}
		p.Field("Last sync", ui.Ago(sc.LastSyncAt))

		snap := a.lib.Snapshot()
		p.Field("Documents", ui.Count(len(snap)))
		p.Field("Images", ui.Count(snap.ImageCount()))
		return nil
	},
}

var syncTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that the remote is reachable with the configured credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return testConnection(cmd.Context(), printer(cmd), a)
	},
}

var syncCodeCmd = &cobra.Command{
	Use:   "code",
	Short: "Sync through a local 6-character code",
	Long: `Sync codes keep snapshots in the local store under a short code.

A code only resolves on the machine that created it.`,
}

var syncCodeNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a sync code and store the collection under it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := code.NewCode()
		if err != nil {
			return err
		}
		return useCode(cmd, c)
	},
}

var syncCodeUseCmd = &cobra.Command{
	Use:   "use CODE",
	Short: "Switch to an existing sync code and merge its snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := code.Normalize(args[0])
		if err != nil {
			return err
		}
		return useCode(cmd, c)
	},
}

func useCode(cmd *cobra.Command, c string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sc := gallery.SyncConfig{Active: true, Backend: string(remote.TypeCode), Locator: c}
	if err := a.store.SaveSyncConfig(cmd.Context(), sc); err != nil {
		return err
	}

	p := printer(cmd)
	p.Success("Sync code: %s", c)

	res, err := a.syncer().Sync(cmd.Context())
	printSyncResult(p, res, err)
	if err != nil {
		return errors.New(sync.Message(err))
	}
	return nil
}

func testConnection(ctx context.Context, p *ui.Printer, a *app) error {
	if err := a.syncer().Check(ctx); err != nil {
		p.Error("Connection test failed")
		return errors.New(sync.Message(err))
	}
	p.Success("Connection OK")
	return nil
}

// buildSyncConfig validates the setup fields for backend and normalizes
// the locator.
func buildSyncConfig(backend, locator, token string) (gallery.SyncConfig, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	locator = strings.TrimSpace(locator)
	token = strings.TrimSpace(token)

	invalid := func(format string, args ...any) (gallery.SyncConfig, error) {
		return gallery.SyncConfig{}, fmt.Errorf("%w: %s", gallery.ErrValidation, fmt.Sprintf(format, args...))
	}

	switch remote.Type(backend) {
	case remote.TypeGitHub:
		if token == "" {
			return invalid("github needs a token")
		}
		loc, err := github.ParseLocator(locator)
		if err != nil {
			return gallery.SyncConfig{}, err
		}
		locator = loc.String()
	case remote.TypeGist:
		if token == "" {
			return invalid("gist needs a token")
		}
	case remote.TypeS3:
		if _, _, err := s3.ParseLocator(locator); err != nil {
			return gallery.SyncConfig{}, err
		}
	case remote.TypeRedis:
		if _, _, err := redis.ParseLocator(locator); err != nil {
			return gallery.SyncConfig{}, err
		}
	case remote.TypeCode:
		if locator == "" {
			c, err := code.NewCode()
			if err != nil {
				return gallery.SyncConfig{}, err
			}
			locator = c
		}
		c, err := code.Normalize(locator)
		if err != nil {
			return gallery.SyncConfig{}, err
		}
		locator, token = c, ""
	case "":
		return invalid("backend is required")
	default:
		return gallery.SyncConfig{}, fmt.Errorf("%w: %q (available: %v)", remote.ErrUnknownBackend, backend, remote.RegisteredTypes())
	}

	return gallery.SyncConfig{
		Active:     true,
		Backend:    backend,
		Credential: token,
		Locator:    locator,
	}, nil
}

// validateClient builds and discards a client so constructor checks run
// before anything is saved.
func validateClient(f *remote.Factory, sc gallery.SyncConfig) error {
	client, err := f.Create(sc)
	if err != nil {
		return err
	}
	if c, ok := client.(io.Closer); ok {
		_ = c.Close()
	}
	return nil
}

func displayLocator(sc gallery.SyncConfig) string {
	if sc.Locator == "" {
		return "(created on first sync)"
	}
	return sc.Locator
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// readToken reads one line from in, without echo when in is a terminal.
func readToken(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && isTerminal(f) {
		fmt.Fprint(prompt, "Token: ")
		b, err := readPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// setupForm asks for backend, locator and token interactively.
func setupForm() (backend, locator, token string, err error) {
	backend = string(remote.TypeGitHub)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should the collection sync to?").
				Options(
					huh.NewOption("GitHub repository file", string(remote.TypeGitHub)),
					huh.NewOption("GitHub gist", string(remote.TypeGist)),
					huh.NewOption("S3 bucket object", string(remote.TypeS3)),
					huh.NewOption("Redis", string(remote.TypeRedis)),
					huh.NewOption("Sync code (this machine only)", string(remote.TypeCode)),
				).
				Value(&backend),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Locator").
				Description("github: owner/repo[@branch][:path]  gist: id or empty  s3: bucket/key  redis: redis://host:port/db#key  code: empty for a new code").
				Value(&locator),
			huh.NewInput().
				Title("Token").
				Description("Leave empty for sync codes and anonymous access").
				EchoMode(huh.EchoModePassword).
				Value(&token),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", "", "", fmt.Errorf("setup cancelled")
		}
		return "", "", "", err
	}
	return backend, locator, token, nil
}

func init() {
	syncSetupCmd.Flags().String("backend", "", "Backend: github, gist, s3, redis, code")
	syncSetupCmd.Flags().String("locator", "", "Backend-specific location of the remote blob")
	syncSetupCmd.Flags().Bool("token-stdin", false, "Read the credential from stdin")
	syncSetupCmd.Flags().Bool("no-test", false, "Skip the connection test")

	syncCodeCmd.AddCommand(syncCodeNewCmd, syncCodeUseCmd)
	syncCmd.AddCommand(syncRunCmd, syncSetupCmd, syncTeardownCmd, syncStatusCmd, syncTestCmd, syncCodeCmd)
	rootCmd.AddCommand(syncCmd)
}
