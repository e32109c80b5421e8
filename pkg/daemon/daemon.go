// Package daemon orchestrates the pipelines: filesystem watchers with
// debounced triggers, a periodic reconciliation timer as the
// correctness backstop, and a bounded worker pool.
package daemon

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/owlmail/owlmail/pkg/config"
	"github.com/owlmail/owlmail/pkg/pipeline"
	"github.com/owlmail/owlmail/pkg/policy"
	"github.com/owlmail/owlmail/pkg/storage"
)

// Service runs the background side of the hub.  All durable state is
// on disk; stopping and restarting the service loses nothing.
type Service struct {
	cfg        *config.Root
	layout     *storage.Layout
	rules      *policy.Loader
	outbox     *pipeline.Outbox
	reconciler *pipeline.Reconciler

	watcher          *fsnotify.Watcher
	outboxDebounce   *Debouncer
	quarantineBounce *Debouncer
	jobs             chan func()
	done             chan struct{}
	wg               sync.WaitGroup
	stopOnce         sync.Once
}

// New wires the service.  The mail root structure is created if
// missing so the watchers have directories to attach to.
func New(cfg *config.Root, layout *storage.Layout, rules *policy.Loader, outbox *pipeline.Outbox, reconciler *pipeline.Reconciler) (*Service, error) {
	if err := layout.Ensure(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:        cfg,
		layout:     layout,
		rules:      rules,
		outbox:     outbox,
		reconciler: reconciler,
		jobs:       make(chan func(), 16),
		done:       make(chan struct{}),
	}
	s.outboxDebounce = NewDebouncer(cfg.Daemon.DebounceWindow, func() {
		s.submit(s.dispatchOutbox)
	})
	s.quarantineBounce = NewDebouncer(cfg.Daemon.DebounceWindow, func() {
		log.Info().Str("module", "daemon").Msg("Quarantine activity observed")
	})
	return s, nil
}

// Start spawns the watch, timer, and worker goroutines, then runs an
// initial dispatch so entries queued while the daemon was down are
// picked up immediately.
func (s *Service) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.layout.Outbox()); err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(s.layout.Quarantine()); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	s.wg.Add(3)
	go s.watchLoop()
	go s.timerLoop()
	go s.workerLoop()

	s.submit(s.dispatchOutbox)
	log.Info().Str("module", "daemon").Str("root", s.layout.Root()).Msg("Daemon started")
	return nil
}

// Stop shuts the service down, waiting up to the configured grace
// period for in-flight work.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			s.watcher.Close()
		}
		s.outboxDebounce.Stop()
		s.quarantineBounce.Stop()

		finished := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(s.cfg.Daemon.ShutdownGrace):
			log.Warn().Str("module", "daemon").Msg("Shutdown grace period expired")
		}
	})
}

// Once runs a single reconciliation pass and returns: ruleset reload,
// outbox dispatch, retention sweep, consistency check.
func (s *Service) Once() error {
	if _, err := s.rules.Reload(); err != nil {
		log.Warn().Str("module", "daemon").Err(err).Msg("Ruleset reload failed, previous rules stay active")
	}
	if err := s.outbox.DispatchPending(); err != nil {
		return err
	}
	if _, err := s.reconciler.EnforceRetention(time.Now().UTC()); err != nil {
		return err
	}
	issues, err := s.reconciler.CheckConsistency()
	if err != nil {
		return err
	}
	for _, issue := range issues {
		log.Warn().Str("module", "daemon").Str("path", issue.Path).
			Str("problem", issue.Problem).Msg("Consistency issue")
	}
	return nil
}

func (s *Service) watchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			switch {
			case strings.HasPrefix(event.Name, s.layout.Outbox()):
				s.outboxDebounce.Trigger()
			case strings.HasPrefix(event.Name, s.layout.Quarantine()):
				s.quarantineBounce.Trigger()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Str("module", "daemon").Err(err).Msg("Watcher error")
		}
	}
}

// timerLoop is the correctness backstop: notifications can be missed
// or coalesced by the OS, the timer cannot.
func (s *Service) timerLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Daemon.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.submit(s.reconcile)
			s.submit(s.dispatchOutbox)
		}
	}
}

func (s *Service) workerLoop() {
	defer s.wg.Done()
	group := &errgroup.Group{}
	group.SetLimit(s.cfg.Daemon.MaxWorkers)
	for {
		select {
		case <-s.done:
			group.Wait()
			return
		case job := <-s.jobs:
			group.Go(func() error {
				job()
				return nil
			})
		}
	}
}

func (s *Service) submit(job func()) {
	select {
	case s.jobs <- job:
	case <-s.done:
	}
}

func (s *Service) dispatchOutbox() {
	if err := s.outbox.DispatchPending(); err != nil {
		log.Error().Str("module", "daemon").Err(err).Msg("Outbox dispatch failed")
	}
}

func (s *Service) reconcile() {
	if _, err := s.rules.Reload(); err != nil {
		log.Warn().Str("module", "daemon").Err(err).Msg("Ruleset reload failed, previous rules stay active")
	}
	if _, err := s.reconciler.EnforceRetention(time.Now().UTC()); err != nil {
		log.Error().Str("module", "daemon").Err(err).Msg("Retention sweep failed")
	}
	issues, err := s.reconciler.CheckConsistency()
	if err != nil {
		log.Error().Str("module", "daemon").Err(err).Msg("Consistency check failed")
		return
	}
	for _, issue := range issues {
		log.Warn().Str("module", "daemon").Str("path", issue.Path).
			Str("problem", issue.Problem).Msg("Consistency issue")
	}
}
