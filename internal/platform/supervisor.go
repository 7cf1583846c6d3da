package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type SupervisorPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// MaxRestarts gives up on a task after this many restarts; zero retries
	// forever.
	MaxRestarts int
}

type RestartPolicy string

const (
	// RestartPermanent restarts on any exit.
	RestartPermanent RestartPolicy = "permanent"
	// RestartTransient restarts only on error.
	RestartTransient RestartPolicy = "transient"
	RestartTemporary RestartPolicy = "temporary"
)

type TaskSpec struct {
	Name    string
	Restart RestartPolicy
}

type TaskStatus struct {
	Name         string        `json:"name"`
	Restart      RestartPolicy `json:"restart_policy"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
	GaveUp       bool          `json:"gave_up"`
	Running      bool          `json:"running"`
}

type SupervisorHooks struct {
	OnRestart func(name string, err error, restartCount int)
	OnGiveUp  func(name string, err error, restartCount int)
}

func defaultSupervisorPolicy() SupervisorPolicy {
	return SupervisorPolicy{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
	}
}

func normalizeSupervisorPolicy(policy SupervisorPolicy) SupervisorPolicy {
	def := defaultSupervisorPolicy()
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = def.BackoffFactor
	}
	return policy
}

// Supervisor keeps named background tasks alive, restarting each one
// independently with exponential backoff.
type Supervisor struct {
	policy SupervisorPolicy
	hooks  SupervisorHooks

	mu    sync.Mutex
	tasks map[string]*supervisedTask
}

type supervisedTask struct {
	spec   TaskSpec
	cancel context.CancelFunc
	done   chan struct{}

	restarts int
	lastErr  error
	gaveUp   bool
	running  bool
}

func NewSupervisor(policy SupervisorPolicy, hooks SupervisorHooks) *Supervisor {
	return &Supervisor{
		policy: normalizeSupervisorPolicy(policy),
		hooks:  hooks,
		tasks:  make(map[string]*supervisedTask),
	}
}

func (s *Supervisor) Start(spec TaskSpec, run func(ctx context.Context) error) error {
	if spec.Name == "" {
		return errors.New("task name is required")
	}
	if run == nil {
		return errors.New("task runner is required")
	}
	switch spec.Restart {
	case RestartPermanent, RestartTransient, RestartTemporary:
	default:
		spec.Restart = RestartPermanent
	}

	s.mu.Lock()
	if existing, ok := s.tasks[spec.Name]; ok && existing.running {
		s.mu.Unlock()
		return fmt.Errorf("task already running: %s", spec.Name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	task := &supervisedTask{spec: spec, cancel: cancel, done: make(chan struct{}), running: true}
	s.tasks[spec.Name] = task
	s.mu.Unlock()

	go s.loop(ctx, task, run)
	return nil
}

func (s *Supervisor) loop(ctx context.Context, task *supervisedTask, run func(ctx context.Context) error) {
	defer func() {
		s.mu.Lock()
		task.running = false
		s.mu.Unlock()
		close(task.done)
	}()

	backoff := s.policy.InitialBackoff
	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		if !shouldRestart(task.spec.Restart, err) {
			s.mu.Lock()
			task.lastErr = err
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		task.lastErr = err
		restarts := task.restarts
		if s.policy.MaxRestarts > 0 && restarts >= s.policy.MaxRestarts {
			task.gaveUp = true
			s.mu.Unlock()
			if s.hooks.OnGiveUp != nil {
				s.hooks.OnGiveUp(task.spec.Name, err, restarts)
			}
			return
		}
		restarts++
		task.restarts = restarts
		s.mu.Unlock()
		if s.hooks.OnRestart != nil {
			s.hooks.OnRestart(task.spec.Name, err, restarts)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * s.policy.BackoffFactor)
		if backoff > s.policy.MaxBackoff {
			backoff = s.policy.MaxBackoff
		}
	}
}

func shouldRestart(policy RestartPolicy, err error) bool {
	switch policy {
	case RestartTransient:
		return err != nil
	case RestartTemporary:
		return false
	default:
		return true
	}
}

// Stop cancels a task and waits for it to exit.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	task, ok := s.tasks[name]
	delete(s.tasks, name)
	s.mu.Unlock()
	if !ok {
		return
	}
	task.cancel()
	<-task.done
}

func (s *Supervisor) StopAll() {
	s.mu.Lock()
	tasks := make([]*supervisedTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.tasks = make(map[string]*supervisedTask)
	s.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
	}
	for _, task := range tasks {
		<-task.done
	}
}

// Status reports every known task sorted by name, including ones that have
// exited but were not stopped.
func (s *Supervisor) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, TaskStatus{
			Name:         task.spec.Name,
			Restart:      task.spec.Restart,
			RestartCount: task.restarts,
			LastError:    errString(task.lastErr),
			GaveUp:       task.gaveUp,
			Running:      task.running,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// supervisedModule adapts a supervised task to the SupportModule lifecycle.
type supervisedModule struct {
	sup  *Supervisor
	spec TaskSpec
	run  func(ctx context.Context) error
}

// Supervised returns a support module whose Start hands run to sup and whose
// Stop cancels it.
func Supervised(sup *Supervisor, spec TaskSpec, run func(ctx context.Context) error) SupportModule {
	return &supervisedModule{sup: sup, spec: spec, run: run}
}

func (m *supervisedModule) Name() string { return m.spec.Name }

func (m *supervisedModule) Start(context.Context) error {
	return m.sup.Start(m.spec, m.run)
}

func (m *supervisedModule) Stop(context.Context) error {
	m.sup.Stop(m.spec.Name)
	return nil
}
