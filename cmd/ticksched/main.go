package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"

	"srtq/internal/job"
	"srtq/internal/sched"
)

const consoleTimeFormat = "15:04:05.000"

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML configuration")
	flag.Parse()

	// Read the configuration
	cfg, err := sched.Load(*configPath)
	log := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log.Info().
		Int("tick_ms", cfg.TickMS).
		Int("quantum_ticks", cfg.QuantumTicks).
		Msg("loaded config")

	opts := []sched.Option{sched.WithLogger(log), sched.WithHooks(sched.LogHook(log))}
	if cfg.EventLog != "" {
		f, err := os.Create(cfg.EventLog)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.EventLog).Msg("open event log")
		}
		defer f.Close()
		rec, err := sched.NewCSVRecorder(f)
		if err != nil {
			log.Fatal().Err(err).Msg("write event log header")
		}
		defer func() {
			if err := rec.Flush(); err != nil {
				log.Error().Err(err).Msg("flush event log")
			}
		}()
		opts = append(opts, sched.WithHooks(rec.Hook))
	}

	s := sched.New(cfg, opts...)
	if err := spawnWorkload(s); err != nil {
		log.Fatal().Err(err).Msg("spawn workload")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = s.Run(ctx)
	switch {
	case errors.Is(err, sched.ErrTimer):
		// the scheduler cannot make progress without ticks
		log.Fatal().Err(err).Msg("cannot arm preemption timer")
	case err != nil:
		log.Error().Err(err).Msg("scheduler stopped")
	}

	for _, r := range s.Reports() {
		log.Info().
			Uint64("task", uint64(r.ID)).
			Str("name", r.Name).
			Int64("wait", r.WaitTime).
			Int64("preemptions", r.Preemptions).
			Err(r.Err).
			Msg(r.String())
	}
}

// spawnWorkload creates tasks with declared execution times, a background
// task without one, and a producer/consumer pipeline.
func spawnWorkload(s *sched.Scheduler) error {
	estimates := []int64{50, 10, 30, 20, 40}
	for i, et := range estimates {
		name := "burn-" + string(rune('A'+i))
		if _, err := s.Spawn(name, job.Burn(et), sched.WithEstimate(et)); err != nil {
			return err
		}
	}
	if _, err := s.Spawn("background", job.SleepWork(5, 30)); err != nil {
		return err
	}

	p, err := job.NewPipeline(s, 8, 2)
	if err != nil {
		return err
	}
	stages := []struct {
		name string
		fn   sched.TaskFunc
	}{
		{"producer", p.Producer},
		{"consumer-1", p.Consumer(4)},
		{"consumer-2", p.Consumer(4)},
		{"waiter", p.Waiter},
	}
	for _, st := range stages {
		if _, err := s.Spawn(st.name, st.fn); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat}
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
}
