package model

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/tempo/pkg/exec"
	"github.com/cuemby/tempo/pkg/log"
	"github.com/cuemby/tempo/pkg/machine"
)

// Model states, in matrix ordinal order.
const (
	StateRaw machine.StateID = iota
	StateInitialized
	StateRunning
	StateFinished
	StateAborted
	StateIdle
)

var stateNames = []string{"raw", "initialized", "running", "finished", "aborted", "idle"}

// InitTask prepares one aspect of the model before it may run.
type InitTask func(m *Model) error

// InitializationManager collects follow-on tasks executed when the
// model enters the Initialized state. Tasks run in registration order;
// the first failure aborts initialization.
type InitializationManager struct {
	mu    sync.Mutex
	tasks []InitTask
}

// Register queues an initialization task.
func (im *InitializationManager) Register(t InitTask) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.tasks = append(im.tasks, t)
}

func (im *InitializationManager) runAll(m *Model) error {
	im.mu.Lock()
	tasks := make([]InitTask, len(im.tasks))
	copy(tasks, im.tasks)
	im.mu.Unlock()
	for _, t := range tasks {
		if err := t(m); err != nil {
			return fmt.Errorf("initialization task failed: %w", err)
		}
	}
	return nil
}

// Model is the façade host domain code builds on: one executive, one
// state machine, and an initialization service. The machine gates the
// executive: Start is only legal from Initialized.
type Model struct {
	name    string
	exec    *exec.Executive
	machine *machine.Machine
	initMgr *InitializationManager
	logger  zerolog.Logger
}

// New creates a model owning a fresh executive built from cfg.
func New(name string, cfg exec.Config) (*Model, error) {
	if cfg.Name == "" {
		cfg.Name = name
	}
	sm, err := machine.New(stateNames, StateRaw, StateAborted, StateIdle)
	if err != nil {
		return nil, err
	}
	sm.Allow(StateRaw, StateInitialized)
	sm.Allow(StateInitialized, StateRunning)
	sm.Allow(StateRunning, StateFinished)
	sm.Allow(StateRunning, StateAborted)
	sm.Allow(StateFinished, StateInitialized)
	sm.Allow(StateAborted, StateInitialized)
	sm.Allow(StateFinished, StateIdle)

	m := &Model{
		name:    name,
		exec:    exec.New(cfg),
		machine: sm,
		initMgr: &InitializationManager{},
		logger:  log.WithComponent("model").With().Str("model", name).Logger(),
	}
	return m, nil
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// Executive returns the model's executive.
func (m *Model) Executive() *exec.Executive { return m.exec }

// Machine returns the model's state machine.
func (m *Model) Machine() *machine.Machine { return m.machine }

// Initialization returns the initialization manager; domain code
// registers follow-on tasks for the Initialized state here.
func (m *Model) Initialization() *InitializationManager { return m.initMgr }

// Starting registers a hook fired at every executive start.
func (m *Model) Starting(h exec.Hook) { m.exec.OnStarted(h) }

// StartedSingleShot registers a hook fired once at the next start.
func (m *Model) StartedSingleShot(h exec.Hook) { m.exec.OnStartedSingleShot(h) }

// Stopped registers a hook fired when a run ends on a stop request.
func (m *Model) Stopped(h exec.Hook) { m.exec.OnStopped(h) }

// Finished registers a hook fired when a run ends.
func (m *Model) Finished(h exec.Hook) { m.exec.OnFinished(h) }

// Reset registers a hook fired after the executive resets.
func (m *Model) Reset(h exec.Hook) { m.exec.OnReset(h) }

// Initialize runs all registered initialization tasks and moves the
// machine to Initialized.
func (m *Model) Initialize() error {
	if err := m.machine.TransitionTo(StateInitialized); err != nil {
		return err
	}
	if err := m.initMgr.runAll(m); err != nil {
		return err
	}
	m.logger.Info().Msg("Model initialized")
	return nil
}

// Start runs the model to completion on the calling goroutine. The
// machine transitions Initialized→Running before the executive starts
// and Running→Finished (or Aborted) after it returns.
func (m *Model) Start() error {
	if err := m.machine.TransitionTo(StateRunning); err != nil {
		return err
	}
	err := m.exec.Start()
	if err != nil || m.exec.State() == exec.Stopped {
		if terr := m.machine.TransitionTo(StateAborted); terr != nil {
			m.logger.Error().Err(terr).Msg("Failed to record aborted state")
		}
		return err
	}
	return m.machine.TransitionTo(StateFinished)
}

// Restart resets the executive and re-initializes the model for
// another run.
func (m *Model) Restart() error {
	if err := m.exec.Reset(); err != nil {
		return err
	}
	if err := m.machine.TransitionTo(StateInitialized); err != nil {
		return err
	}
	return m.initMgr.runAll(m)
}
