package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dverney/taskmill/internal/config"
	"github.com/dverney/taskmill/internal/controller"
	"github.com/dverney/taskmill/internal/db"
	"github.com/dverney/taskmill/internal/lifecycle"
	"github.com/dverney/taskmill/internal/model"
	"github.com/dverney/taskmill/internal/order"
	"github.com/dverney/taskmill/internal/reminder"
	"github.com/dverney/taskmill/internal/web"
)

func main() {
	configPathFlag := flag.String("config", "", "config file path")
	dbPathFlag := flag.String("db", "", "sqlite db path")
	addrFlag := flag.String("addr", "", "http listen address")
	flag.Parse()

	cfgPath, err := resolveConfigPath(*configPathFlag)
	if err != nil {
		fatal("resolve config path", err)
	}

	cfg, err := config.LoadOrCreate(cfgPath)
	if err != nil {
		fatal("load config", err)
	}

	if *dbPathFlag != "" {
		cfg.DBPath = *dbPathFlag
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(cfgPath), "taskmill.db")
	}
	if *addrFlag != "" {
		cfg.HTTPAddr = *addrFlag
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		fatal("save config", err)
	}

	log := makeLogger(cfg.LogLevel)

	sqlDB, err := db.Open(cfg.DBPath)
	if err != nil {
		fatal("open database", err)
	}
	defer sqlDB.Close()

	store := db.NewStore(sqlDB)
	life := lifecycle.New(store, log, time.Now)
	orders := order.NewEngine(store, log)

	alarm := reminder.NewAlarmClock(log, func(taskID int64) {
		log.Info("reminder fired", "task", taskID)
	})
	defer alarm.Stop()

	filter := controller.NewStatusFilter(visibleStatuses(cfg, log), func(visible []model.TaskStatus) {
		cfg.VisibleStatuses = make([]string, 0, len(visible))
		for _, st := range visible {
			cfg.VisibleStatuses = append(cfg.VisibleStatuses, string(st))
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			log.Warn("cannot persist status filter", "error", err)
		}
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := controller.New(store, life, orders, alarm, filter, log, time.Now,
		time.Duration(cfg.DayPollSeconds)*time.Second)
	ctrl.Start(ctx)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: web.NewServer(ctrl, store, log).Handler(),
	}

	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}

	ctrl.Wait()
	log.Info("bye")
}

func resolveConfigPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return config.DefaultConfigPath()
}

func makeLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// visibleStatuses parses the persisted status filter, skipping anything it no
// longer recognizes.
func visibleStatuses(cfg config.Config, log *slog.Logger) []model.TaskStatus {
	var out []model.TaskStatus
	for _, raw := range cfg.VisibleStatuses {
		st, err := model.ParseStatus(raw)
		if err != nil {
			log.Warn("ignoring unknown status in config", "status", raw)
			continue
		}
		out = append(out, st)
	}
	return out
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
