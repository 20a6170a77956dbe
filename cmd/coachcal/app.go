package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"coachcal/internal/calstore"
	"coachcal/internal/calsync"
	"coachcal/internal/config"
	appLog "coachcal/internal/log"
	"coachcal/internal/mapping"
	"coachcal/internal/runner"
	"coachcal/internal/schedule"
	"coachcal/internal/state"
)

var errNoAnswer = errors.New("no answer to calendar access prompt")

// app is the fully wired object graph behind every subcommand.
type app struct {
	cfg      config.Config
	loc      *time.Location
	state    *state.FileStore
	store    *calstore.Store
	provider *schedule.FileProvider
	engine   *calsync.Engine
	runner   *runner.Runner

	closers []func() error
}

// loadConfig reads the config file, resolves relative paths against its
// directory and applies the logging settings.
func loadConfig(opts *rootOptions) (config.Config, error) {
	conf, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config %s: %w", opts.configPath, err)
	}
	if opts.listen != "" {
		conf.Listen = opts.listen
	}
	if opts.debug {
		conf.Log.Level = "debug"
	}

	resolved := conf.ResolvePaths(filepath.Dir(opts.configPath))

	appLog.SetLevel(appLog.ParseLevel(resolved.Log.Level))
	if resolved.Log.File != "" {
		appLog.EnableFile(appLog.FileOptions{
			Path:       resolved.Log.File,
			MaxSizeMB:  resolved.Log.MaxSizeMB,
			MaxBackups: resolved.Log.MaxBackups,
			MaxAgeDays: resolved.Log.MaxAgeDays,
		})
	}
	return resolved, nil
}

func openApp(opts *rootOptions, in io.Reader, prompt io.Writer) (*app, error) {
	conf, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	loc, err := conf.Location()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: conf, loc: loc}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	a.state, err = state.Open(conf.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", conf.StatePath, err)
	}

	a.store, err = calstore.Open(calstore.Options{
		Dir:    conf.Calendar.Dir,
		Policy: calstore.AccessPolicy(conf.Calendar.Access),
		Prompt: terminalPrompt(in, prompt),
	})
	if err != nil {
		return nil, fmt.Errorf("open calendar store %s: %w", conf.Calendar.Dir, err)
	}

	var maps calsync.MappingStore
	switch conf.Mapping.Backend {
	case "sqlite":
		db, err := mapping.OpenSQLite(conf.Mapping.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		maps = db
	default:
		maps = mapping.NewFileStore(conf.Mapping.Path)
	}

	a.engine, err = calsync.NewEngine(calsync.Config{
		Store:         a.store,
		Mapping:       maps,
		State:         a.state,
		ContainerName: conf.Calendar.ContainerName,
		Location:      loc,
	})
	if err != nil {
		return nil, err
	}

	a.provider = schedule.NewFileProvider(conf.SchedulePath, loc)
	a.runner = runner.New(a.engine, a.provider, runner.Options{
		Timeout:  conf.SyncTimeout(),
		Cron:     conf.Sync.RefreshCron,
		Location: loc,
	})

	appLog.Debug("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"schedule_path", conf.SchedulePath,
		"state_path", conf.StatePath,
		"calendar_dir", conf.Calendar.Dir,
		"calendar_access", conf.Calendar.Access,
		"mapping_backend", conf.Mapping.Backend,
		"mapping_path", conf.Mapping.Path,
		"refresh", conf.Sync.RefreshCron,
		"watch", conf.Sync.Watch,
	)
	ok = true
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// terminalPrompt asks for calendar access on the terminal. End of input
// leaves the request unanswered so it is asked again next time.
func terminalPrompt(in io.Reader, out io.Writer) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		fmt.Fprint(out, "Allow coachcal to write your training sessions to the calendar? [y/N] ")

		answer := make(chan string, 1)
		go func() {
			line, err := bufio.NewReader(in).ReadString('\n')
			if err != nil && line == "" {
				close(answer)
				return
			}
			answer <- line
		}()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case line, ok := <-answer:
			if !ok {
				return false, errNoAnswer
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return true, nil
			default:
				return false, nil
			}
		}
	}
}
