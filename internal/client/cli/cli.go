// Package cli implements the taskctl commands. It is a thin shell over
// the session manager; all protocol behavior lives in the client SDK.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	apiclient "github.com/taskhive/backend/internal/client/api"
	"github.com/taskhive/backend/internal/client/session"
	"github.com/taskhive/backend/internal/client/session/boltdb"
	"github.com/taskhive/backend/internal/client/transport"
	"github.com/taskhive/backend/pkg/api"
)

// refresherHolder breaks the construction cycle between the transport
// chain and the manager it refreshes through.
type refresherHolder struct {
	manager *session.Manager
}

func (r *refresherHolder) RefreshOrLogout(ctx context.Context) error {
	if r.manager == nil {
		return fmt.Errorf("session manager not ready")
	}
	return r.manager.RefreshOrLogout(ctx)
}

func (r *refresherHolder) ForceLogout(ctx context.Context) {
	if r.manager != nil {
		r.manager.ForceLogout(ctx)
	}
}

type App struct {
	manager *session.Manager
	api     *apiclient.Client
	storage *boltdb.Storage
}

func NewApp(serverURL, cachePath string) (*App, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	store := session.NewStore()
	refresher := &refresherHolder{}

	httpClient := &http.Client{
		Jar:     jar,
		Timeout: 30 * time.Second,
		Transport: transport.Chain(nil,
			transport.RetryOnce(refresher),
			transport.Bearer(store),
		),
	}

	storage, err := boltdb.Open(cachePath)
	if err != nil {
		return nil, err
	}

	client := apiclient.NewWithHTTPClient(serverURL, httpClient)
	manager := session.NewManager(client, store, storage)
	refresher.manager = manager

	return &App{manager: manager, api: client, storage: storage}, nil
}

func (a *App) Close() error {
	return a.storage.Close()
}

func defaultCachePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "taskctl", "auth.db")
}

func NewRootCommand() *cobra.Command {
	var (
		serverURL string
		cachePath string
		app       *App
	)

	root := &cobra.Command{
		Use:           "taskctl",
		Short:         "Taskhive command-line client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(filepath.Dir(cachePath), 0o700); err != nil {
				return err
			}
			var err error
			app, err = NewApp(serverURL, cachePath)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app != nil {
				return app.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "auth server base URL")
	root.PersistentFlags().StringVar(&cachePath, "cache", defaultCachePath(), "auth cache file")

	root.AddCommand(
		newLoginCommand(&app),
		newLogoutCommand(&app),
		newStatusCommand(&app),
		newWhoamiCommand(&app),
	)

	return root
}

func newLoginCommand(app **App) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := promptCredentials(cmd)
			if err != nil {
				return err
			}

			state, err := (*app).manager.Login(cmd.Context(), email, password)
			if err != nil {
				if apiErr, ok := apiclient.AsError(err); ok && apiErr.Code == api.CodeInvalidCredentials {
					return fmt.Errorf("invalid email or password")
				}
				return err
			}

			cmd.Printf("Logged in as %s (%s)\n", state.Account.Name, state.Account.Email)
			return nil
		},
	}
}

func newLogoutCommand(app **App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and clear the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := (*app).manager.Logout(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("Logged out")
			return nil
		},
	}
}

func newStatusCommand(app **App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status, refreshing if possible",
		RunE: func(cmd *cobra.Command, args []string) error {
			status := (*app).manager.Restore(cmd.Context())
			cmd.Printf("Session: %s\n", status)

			if state := (*app).manager.Store().Get(); state.LoggedIn() {
				cmd.Printf("Account: %s (%s)\n", state.Account.Name, state.Account.Email)
			}
			return nil
		},
	}
}

func newWhoamiCommand(app **App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Ask the server who the current bearer token belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status := (*app).manager.Restore(cmd.Context()); status != session.StatusAuthenticated {
				return fmt.Errorf("not logged in")
			}

			account, err := (*app).api.Me(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("%s <%s>\n", account.Name, account.Email)
			return nil
		},
	}
}

func promptCredentials(cmd *cobra.Command) (string, string, error) {
	reader := bufio.NewReader(cmd.InOrStdin())

	cmd.Print("Email: ")
	email, err := reader.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	email = strings.TrimSpace(email)

	cmd.Print("Password: ")
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(syscall.Stdin))
		cmd.Println()
		if err != nil {
			return "", "", err
		}
		return email, string(raw), nil
	}

	password, err := reader.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	return email, strings.TrimSpace(password), nil
}
