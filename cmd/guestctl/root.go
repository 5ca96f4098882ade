package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/paperhub/guest-hub/config"
	"github.com/paperhub/guest-hub/internal/application/session"
	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/infrastructure/persistence/sqlite"
	"github.com/paperhub/guest-hub/pkg/logger"
)

// app holds the flags and the resources opened for one invocation.
type app struct {
	dbPath    string
	namespace string
	limit     int
	rearm     int
	guestID   string
	jsonOut   bool
	verbose   bool

	log   *logger.Logger
	store *sqlite.KVStore
	reg   *session.Registry
	obs   *failureObserver
}

// failureObserver remembers the first persistence failure. The tracker only
// reports them, but a CLI must exit non-zero when a write did not land.
type failureObserver struct {
	guest.NopObserver

	mu  sync.Mutex
	err error
}

func (o *failureObserver) PersistFailed(id guest.GuestID, op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err == nil && !errors.Is(err, context.Canceled) {
		o.err = fmt.Errorf("%s for guest %s: %w", op, id, err)
	}
}

func (o *failureObserver) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// execute runs guestctl with args and always releases the store.
func execute(args []string, stdout, stderr io.Writer) error {
	a := &app{}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if closeErr := a.close(); err == nil {
		err = closeErr
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "guestctl",
		Short: "Inspect and edit locally stored guest sessions",
		Long: `guestctl works on the SQLite snapshot store used by offline and
single-node deployments.

Defaults for the store path, namespace and prompt policy come from the same
environment variables (and .env file) as the server.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.open,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.dbPath, "db", "", "SQLite store path (default: LOCAL_STORE_PATH)")
	flags.StringVar(&a.namespace, "namespace", "", "Snapshot key namespace (default: GUEST_STORAGE_NAMESPACE)")
	flags.IntVar(&a.limit, "limit", 0, "Free question limit (default: GUEST_FREE_QUESTION_LIMIT)")
	flags.IntVar(&a.rearm, "rearm", 0, "Answers after a dismissal before re-prompting (default: GUEST_REARM_AFTER)")
	flags.StringVarP(&a.guestID, "guest", "g", "", "Guest ID to operate on")
	flags.BoolVar(&a.jsonOut, "json", false, "Print JSON instead of text")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		a.newCmd(),
		a.listCmd(),
		a.showCmd(),
		a.answerCmd(),
		a.bookmarkCmd(),
		a.viewCmd(),
		a.dismissCmd(),
		a.clearCmd(),
		a.exportCmd(),
	)
	return root
}

// open resolves defaults from config and opens the store.
func (a *app) open(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if a.dbPath == "" {
		a.dbPath = cfg.LocalStore.Path
	}
	if a.namespace == "" {
		a.namespace = cfg.Guest.Namespace
	}
	if a.limit <= 0 {
		a.limit = cfg.Guest.FreeQuestionLimit
	}
	if a.rearm <= 0 {
		a.rearm = cfg.Guest.RearmAfter
	}

	level := logger.LevelWarn
	if a.verbose {
		level = logger.LevelDebug
	}
	a.log = logger.New(logger.Options{Output: cmd.ErrOrStderr(), Level: level, Format: "console"})

	a.store, err = sqlite.Open(a.dbPath)
	if err != nil {
		return err
	}

	a.obs = &failureObserver{}
	a.reg = session.NewRegistry(a.store, session.Config{
		Namespace:         a.namespace,
		FreeQuestionLimit: a.limit,
		RearmAfter:        a.rearm,
		Size:              16,
	}, session.WithObserver(a.obs), session.WithLogger(a.log))

	a.log.Debug("store opened", logger.String("path", a.dbPath), logger.String("namespace", a.namespace))
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.reg != nil {
		errs = append(errs, a.reg.Close())
	}
	if a.obs != nil {
		errs = append(errs, a.obs.Err())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return errors.Join(errs...)
}

// guest returns the --guest flag or an error if it is missing.
func (a *app) guest() (string, error) {
	id := strings.TrimSpace(a.guestID)
	if id == "" {
		return "", errors.New("--guest is required")
	}
	return id, nil
}
