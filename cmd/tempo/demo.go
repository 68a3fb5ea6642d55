package main

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/tempo/pkg/coexec"
	"github.com/cuemby/tempo/pkg/events"
	"github.com/cuemby/tempo/pkg/exec"
	"github.com/cuemby/tempo/pkg/log"
	"github.com/cuemby/tempo/pkg/metrics"
	"github.com/cuemby/tempo/pkg/trace"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run sample simulations",
}

var demoHelloCmd = &cobra.Command{
	Use:   "hello",
	Short: "One event, one clock advance",
	RunE:  runHello,
}

var demoDinnerCmd = &cobra.Command{
	Use:   "dinner",
	Short: "Detachable events with join: cook and serve dinner",
	RunE:  runDinner,
}

var demoRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Two parallel executives with a time-warp rollback",
	RunE:  runRollback,
}

func init() {
	demoCmd.PersistentFlags().String("config", "", "Executive config file (YAML)")
	demoCmd.PersistentFlags().String("trace-dir", "", "Directory for the BoltDB run trace")
	demoCmd.PersistentFlags().String("metrics-addr", "", "Address to serve Prometheus metrics on (e.g. :9090)")
	demoCmd.AddCommand(demoHelloCmd)
	demoCmd.AddCommand(demoDinnerCmd)
	demoCmd.AddCommand(demoRollbackCmd)
}

// buildExecutive assembles an executive with the broker, optional trace
// recorder, and optional metrics endpoint shared by the single-executive
// demos (hello, dinner). The rollback demo builds its own executives.
func buildExecutive(cmd *cobra.Command, name string) (*exec.Executive, func(), error) {
	cfg := exec.Config{Name: name, IgnoreCausalityViolations: true}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := exec.LoadConfig(path)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
		if cfg.Name == "" {
			cfg.Name = name
		}
	}
	ex := exec.New(cfg)

	broker := events.NewBroker()
	broker.Start()
	ex.SetBroker(broker)
	cleanup := func() { broker.Stop() }

	if dir, _ := cmd.Flags().GetString("trace-dir"); dir != "" {
		rec, err := trace.Open(dir)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		rec.Attach(broker, ex.RunID)
		prev := cleanup
		cleanup = func() {
			rec.Close()
			prev()
		}
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.WithComponent("metrics").Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	return ex, cleanup, nil
}

func runHello(cmd *cobra.Command, _ []string) error {
	ex, cleanup, err := buildExecutive(cmd, "hello")
	if err != nil {
		return err
	}
	defer cleanup()

	when := time.Date(2016, 7, 15, 3, 51, 21, 0, time.UTC)
	if _, err := ex.RequestEvent(func(ex *exec.Executive, _ any) {
		fmt.Printf("%s  Hello, world!\n", ex.Now().Format(time.RFC3339))
	}, when); err != nil {
		return err
	}
	if err := ex.Start(); err != nil {
		return err
	}
	fmt.Printf("run finished: state=%s events=%d now=%s\n", ex.State(), ex.EventCount(), ex.Now().Format(time.RFC3339))
	return nil
}

func runDinner(cmd *cobra.Command, _ []string) error {
	ex, cleanup, err := buildExecutive(cmd, "dinner")
	if err != nil {
		return err
	}
	defer cleanup()

	t0 := time.Date(2016, 11, 24, 9, 0, 0, 0, time.UTC)
	logger := log.WithComponent("demo")

	dish := func(name string, d time.Duration) exec.Handler {
		return func(ex *exec.Executive, _ any) {
			dec, err := ex.Detach()
			if err != nil {
				logger.Error().Err(err).Msg("Detach failed")
				return
			}
			fmt.Printf("%s  started %s\n", ex.Now().Format("15:04"), name)
			if err := dec.SuspendFor(d); err != nil {
				logger.Error().Err(err).Msg("Suspend failed")
				return
			}
			fmt.Printf("%s  finished %s\n", ex.Now().Format("15:04"), name)
		}
	}

	if _, err := ex.Submit(exec.Request{
		Kind: exec.Detachable,
		When: t0,
		Handler: func(ex *exec.Executive, _ any) {
			turkey, _ := ex.Submit(exec.Request{Kind: exec.Detachable, When: ex.Now(), Handler: dish("turkey", 300*time.Minute)})
			gravy, _ := ex.Submit(exec.Request{Kind: exec.Detachable, When: ex.Now(), Handler: dish("gravy", 250*time.Minute)})
			stuffing, _ := ex.Submit(exec.Request{Kind: exec.Detachable, When: ex.Now(), Handler: dish("stuffing", 30*time.Minute)})
			if err := ex.Join(turkey, gravy, stuffing); err != nil {
				logger.Error().Err(err).Msg("Join failed")
				return
			}
			fmt.Printf("%s  Serving dinner!\n", ex.Now().Format("15:04"))
		},
	}); err != nil {
		return err
	}
	return ex.Start()
}

func runRollback(_ *cobra.Command, _ []string) error {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := t0.Add(2 * time.Hour)

	a := exec.New(exec.Config{Name: "exec-a", Parallel: true, IgnoreCausalityViolations: true})
	b := exec.New(exec.Config{Name: "exec-b", Parallel: true, IgnoreCausalityViolations: true})

	var ticksA atomic.Int64
	var tickA exec.Handler
	tickA = func(ex *exec.Executive, _ any) {
		ticksA.Add(1)
		next := ex.Now().Add(5 * time.Minute)
		if next.Before(end) {
			ex.RequestDaemonEvent(tickA, next)
		}
	}
	if _, err := a.RequestDaemonEvent(tickA, t0); err != nil {
		return err
	}

	co, err := coexec.New([]*exec.Executive{a, b}, end)
	if err != nil {
		return err
	}

	a.OnRolledBack(func(ex *exec.Executive, to time.Time) {
		fmt.Printf("exec-a rolled back to %s\n", to.Format(time.RFC3339))
	})

	// Partway through B's run, hand A an event in its past. The
	// injection happens once even though the injecting event itself is
	// re-fired when B rolls back.
	var injected atomic.Bool
	if _, err := b.Submit(exec.Request{
		When: t0.Add(time.Hour),
		Handler: func(bex *exec.Executive, _ any) {
			if injected.Swap(true) {
				return
			}
			target := bex.Now().Add(-10 * time.Minute)
			fmt.Printf("exec-b injects into exec-a at %s\n", target.Format(time.RFC3339))
			a.Inject(exec.Request{
				When: target,
				Handler: func(aex *exec.Executive, _ any) {
					fmt.Printf("exec-a handled injected event at %s\n", aex.Now().Format(time.RFC3339))
				},
			})
			// Coordinate off the executive thread: the initiator is
			// itself quiesced by the rollback.
			go co.Rollback(target)
		},
	}); err != nil {
		return err
	}

	if err := co.Run(); err != nil {
		return err
	}
	fmt.Printf("cohort finished: a=%s b=%s ticks=%d\n", a.State(), b.State(), ticksA.Load())
	return nil
}
