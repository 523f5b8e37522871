// Package commands implements the scribe CLI, the provider-facing client of
// the HealthScribe API
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/auth"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/client"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/settings"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/config"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
)

// rootOptions holds the global flags
type rootOptions struct {
	configPath string
	apiURL     string
	token      string
	localStore string
	format     string
	verbose    bool
}

// env is what a command needs to talk to the API
type env struct {
	cfg *config.Config
	log *logger.Logger
	api *client.Client
}

// NewRootCmd creates the root command with every subcommand attached
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "scribe",
		Short: "HealthScribe provider client",
		Long: `scribe manages provider settings, patients and encounter recordings
against the HealthScribe API.

Configuration is read from config.yaml, a .env file and SCRIBE_* environment
variables. Pass --token (or set SCRIBE_TOKEN) to act as a signed-in provider;
without it settings fall back to an anonymous identity stored on this device.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a config file")
	flags.StringVar(&opts.apiURL, "api-url", "", "HealthScribe API base URL")
	flags.StringVar(&opts.token, "token", "", "access token of the signed-in provider")
	flags.StringVar(&opts.localStore, "local-store", "", "path of the local settings database")
	flags.StringVar(&opts.format, "format", "table", "output format: table or json")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log API calls")

	cmd.AddCommand(
		NewVersionCmd(),
		newSettingsCmd(opts),
		newPatientsCmd(opts),
		newEncountersCmd(opts),
	)
	return cmd
}

// Execute runs the CLI
func Execute() error {
	return NewRootCmd().Execute()
}

// load reads configuration, applies flag overrides and builds the API
// client
func (o *rootOptions) load(cmd *cobra.Command) (*env, error) {
	_ = godotenv.Load()

	if o.format != "table" && o.format != "json" {
		return nil, fmt.Errorf("invalid --format %q: use table or json", o.format)
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.apiURL != "" {
		cfg.Client.APIBaseURL = o.apiURL
	}
	if o.token != "" {
		cfg.Client.Token = o.token
	}
	if o.localStore != "" {
		cfg.Client.LocalStorePath = o.localStore
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}

	level := "warn"
	if o.verbose {
		level = "debug"
	}
	log := logger.NewWithOutput(level, cmd.ErrOrStderr())

	return &env{
		cfg: cfg,
		log: log,
		api: client.New(cfg.Client.APIBaseURL, cfg.Client.Token, cfg.Client.Timeout, log),
	}, nil
}

// requireToken fails commands that only work for a signed-in provider
func (e *env) requireToken() error {
	if strings.TrimSpace(e.cfg.Client.Token) == "" {
		return fmt.Errorf("this command needs a signed-in provider: pass --token or set SCRIBE_TOKEN")
	}
	return nil
}

// settingsStore opens the local mirror and builds the reconciliation
// store. The caller closes the returned store.
func (e *env) settingsStore() (*settings.Store, *settings.LocalStore, error) {
	path := e.cfg.Client.LocalStorePath
	if path == "" {
		var err error
		if path, err = settings.DefaultLocalStorePath(); err != nil {
			return nil, nil, err
		}
	}

	local, err := settings.OpenLocalStore(path)
	if err != nil {
		return nil, nil, err
	}

	log := e.log.WithComponent("settings")
	var identity settings.IdentitySource
	if token := e.cfg.Client.Token; token != "" {
		subject, err := auth.SubjectFromToken(token)
		if err != nil {
			local.Close()
			return nil, nil, err
		}
		identity = settings.AuthenticatedIdentity(subject)
	} else {
		identity = settings.NewAnonymousIdentity(local, log)
	}

	return settings.NewStore(identity, e.api, local, log), local, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
