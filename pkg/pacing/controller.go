package pacing

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tempo/pkg/exec"
	"github.com/cuemby/tempo/pkg/log"
)

// RenderFunc receives one render tick with the executive's virtual time
// at the moment the wall-clock frame fired.
type RenderFunc func(ex *exec.Executive, now time.Time)

// Controller paces virtual time against wall time. The executive thread
// is slept at clock-advance boundaries so that
// virtual_elapsed / wall_elapsed stays near 10^scale, and a render tick
// is raised frameRate times per wall-clock second.
type Controller struct {
	ex        *exec.Executive
	scale     float64
	frameRate int
	logger    zerolog.Logger

	mu          sync.Mutex
	subs        map[int]RenderFunc
	nextID      int
	baseWall    time.Time
	baseVirtual time.Time
	anchored    bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewController creates a pacing controller bound to the executive.
// scale is the base-10 exponent of the virtual-to-wall ratio: 0 paces
// real time, 2 runs a hundred times faster than wall clock.
func NewController(ex *exec.Executive, scale float64, frameRate int) *Controller {
	c := &Controller{
		ex:        ex,
		scale:     scale,
		frameRate: frameRate,
		logger:    log.WithComponent("execcontroller"),
		subs:      make(map[int]RenderFunc),
		stopCh:    make(chan struct{}),
	}
	ex.OnClockAboutToChange(c.pace)
	// Each run re-anchors on its first clock advance.
	ex.OnStarted(func(*exec.Executive) {
		c.mu.Lock()
		c.anchored = false
		c.mu.Unlock()
	})
	return c
}

// Subscribe registers a render callback and returns its subscription id.
func (c *Controller) Subscribe(f RenderFunc) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = f
	return id
}

// Unsubscribe removes a render subscription.
func (c *Controller) Unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

// Start launches the render ticker.
func (c *Controller) Start() {
	if c.frameRate <= 0 {
		return
	}
	go c.renderLoop()
}

// Stop halts the render ticker.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// pace sleeps the executive thread so the upcoming virtual time does
// not arrive before its wall-clock due time. The first advance of a run
// anchors the ratio and is never slept on.
func (c *Controller) pace(_ *exec.Executive, newTime time.Time) {
	c.mu.Lock()
	if !c.anchored {
		c.baseWall = time.Now()
		c.baseVirtual = newTime
		c.anchored = true
		c.mu.Unlock()
		return
	}
	virtualElapsed := newTime.Sub(c.baseVirtual)
	target := c.baseWall.Add(time.Duration(float64(virtualElapsed) / math.Pow(10, c.scale)))
	c.mu.Unlock()

	if d := time.Until(target); d > 0 {
		time.Sleep(d)
	}
}

func (c *Controller) renderLoop() {
	ticker := time.NewTicker(time.Second / time.Duration(c.frameRate))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := c.ex.Now()
			c.mu.Lock()
			snapshot := make([]RenderFunc, 0, len(c.subs))
			for _, f := range c.subs {
				snapshot = append(snapshot, f)
			}
			c.mu.Unlock()
			for _, f := range snapshot {
				f(c.ex, now)
			}
		case <-c.stopCh:
			return
		}
	}
}
