package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kittclouds/storykeep/internal/config"
	"github.com/kittclouds/storykeep/internal/logging"
	"github.com/kittclouds/storykeep/internal/store"
	"github.com/kittclouds/storykeep/pkg/session"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
)

// app is one opened, loaded store. Every command opens it, does its work
// and closes it again.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *store.SQLiteStore
	session *session.Session
	out     io.Writer
}

func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if f.dbPath != "" {
		cfg.Store.Path = f.dbPath
	}
	return cfg, nil
}

func (f *globalFlags) open(cmd *cobra.Command) (*app, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, f.verbose)
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	st, err := store.Open(ctx, store.Options{
		Driver: cfg.Store.Driver,
		DSN:    cfg.Store.Path,
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}

	sess := session.New(st, session.Options{
		Logger:               log,
		CascadeImageDelete:   cfg.Store.CascadeImageDelete,
		IncludeNotesInExport: cfg.Export.IncludeNotes,
		KeywordLimit:         cfg.ImageGen.KeywordLimit,
	})
	if err := sess.Load(ctx); err != nil {
		st.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: log, store: st, session: sess, out: cmd.OutOrStdout()}, nil
}

func (a *app) Close() error {
	_ = a.log.Sync()
	return a.store.Close()
}

// run opens the app, calls fn and always closes it.
func (f *globalFlags) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) (err error) {
	a, err := f.open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(cmd.Context(), a)
}

// confirmer asks on the command's input unless --yes was given.
func (f *globalFlags) confirmer(cmd *cobra.Command) session.Confirmer {
	if f.yes {
		return session.AlwaysConfirm
	}
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	return func(prompt string) bool {
		fmt.Fprintf(out, "%s [y/N]: ", prompt)
		line, _ := in.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}

func (a *app) ok(format string, args ...any) {
	okColor.Fprintf(a.out, format+"\n", args...)
}

func (a *app) warn(format string, args ...any) {
	warnColor.Fprintf(a.out, format+"\n", args...)
}
