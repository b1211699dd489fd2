package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/warpdl/warpmaster/cmd/common"
	wmcommon "github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/internal/cleanup"
	"github.com/warpdl/warpmaster/internal/download"
	"github.com/warpdl/warpmaster/internal/master"
	"github.com/warpdl/warpmaster/pkg/logger"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

const DEF_DEMO_UNIT = time.Second

var (
	demoUnit time.Duration

	demoFlags = []cli.Flag{
		cli.DurationFlag{
			Name:        "unit",
			Usage:       "wall time of one scenario time unit",
			Value:       DEF_DEMO_UNIT,
			Destination: &demoUnit,
		},
	}
)

func demo(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" || name == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	l := logger.NewCharmLogger(os.Stderr, "warn")
	defer l.Close()
	rep, err := runDemo(context.Background(), os.Stdout, name, demoUnit, l)
	if err != nil {
		common.PrintRuntimeErr(ctx, "demo", name, err)
		return nil
	}
	fmt.Print(rep)
	return nil
}

// demoReport is the coordinator state at the end of a scenario.
type demoReport struct {
	Result warpflow.Result
	Info   warpflow.TaskInfo
	Status master.Status
}

func (r *demoReport) String() string {
	return formatStatus(&wmcommon.MasterStatusResult{
		Found:  true,
		Run:    &r.Info,
		Status: r.Info.State,
	})
}

// demoBars draws one bar per worker, created when it first reports.
type demoBars struct {
	p    *mpb.Progress
	mu   sync.Mutex
	bars map[string]*mpb.Bar
}

func newDemoBars(w io.Writer) *demoBars {
	return &demoBars{
		p:    mpb.New(mpb.WithOutput(w), mpb.WithWidth(48), mpb.WithRefreshRate(50*time.Millisecond)),
		bars: make(map[string]*mpb.Bar),
	}
}

func (b *demoBars) bar(item wmcommon.Item) *mpb.Bar {
	b.mu.Lock()
	defer b.mu.Unlock()
	bar, ok := b.bars[item.SHA256]
	if !ok {
		bar = common.InitItemBar(b.p, common.Beaut(item.Short(), 10), item.Duration.Milliseconds())
		b.bars[item.SHA256] = bar
	}
	return bar
}

func (b *demoBars) progress(item wmcommon.Item, elapsed time.Duration) {
	bar := b.bar(item)
	cur := elapsed.Milliseconds()
	if total := item.Duration.Milliseconds(); cur > total {
		cur = total
	}
	bar.SetCurrent(cur)
}

// observe aborts the bar of a worker that ends without completing.
func (b *demoBars) observe(ev warpflow.Event) {
	if ev.Type != warpflow.EventTaskFinished || ev.TaskType != wmcommon.DownloadTaskType {
		return
	}
	if ev.Status == warpflow.StatusCompleted {
		return
	}
	key := strings.TrimPrefix(ev.TaskID, wmcommon.DownloadTaskPrefix)
	b.mu.Lock()
	bar, ok := b.bars[key]
	b.mu.Unlock()
	if ok && !bar.Completed() {
		bar.Abort(false)
	}
}

func (b *demoBars) wait() {
	b.mu.Lock()
	for _, bar := range b.bars {
		if !bar.Completed() {
			bar.Abort(false)
		}
	}
	b.mu.Unlock()
	b.p.Wait()
}

// demoScenario drives the engine and returns the coordinator run to wait on.
type demoScenario func(ctx context.Context, e *warpflow.Engine, u time.Duration) (warpflow.Handle, error)

var demoScenarios = map[string]demoScenario{
	"normal":       scenarioNormal,
	"early-signal": scenarioEarlySignal,
	"cancel-stale": scenarioCancelStale,
}

func demoItem(key string, units int, u time.Duration) wmcommon.Item {
	return wmcommon.Item{SHA256: key, Duration: time.Duration(units) * u}
}

func scenarioNormal(ctx context.Context, e *warpflow.Engine, u time.Duration) (warpflow.Handle, error) {
	return master.Start(ctx, e, master.Input{
		StartupDelay: u,
		Files: []wmcommon.Item{
			demoItem(strings.Repeat("0", 64), 5, u),
			demoItem(strings.Repeat("1", 64), 3, u),
		},
	})
}

func scenarioEarlySignal(ctx context.Context, e *warpflow.Engine, u time.Duration) (warpflow.Handle, error) {
	hd, err := master.Start(ctx, e, master.Input{
		StartupDelay: 4 * u,
		Files:        []wmcommon.Item{demoItem("A", 20, u), demoItem("B", 2, u)},
	})
	if err != nil {
		return hd, err
	}
	if err := waitPhase(ctx, e, master.PhaseInitializing); err != nil {
		return hd, err
	}
	return hd, master.Notify(ctx, e, "A")
}

func scenarioCancelStale(ctx context.Context, e *warpflow.Engine, u time.Duration) (warpflow.Handle, error) {
	if _, err := master.Start(ctx, e, master.Input{
		Files: []wmcommon.Item{demoItem("A", 10, u), demoItem("B", 3, u)},
	}); err != nil {
		return warpflow.Handle{}, err
	}
	if err := waitUntil(ctx, func() bool {
		return e.CountLive(warpflow.Filter{Type: wmcommon.DownloadTaskType}) == 2
	}); err != nil {
		return warpflow.Handle{}, err
	}
	return master.Start(ctx, e, master.Input{Files: []wmcommon.Item{demoItem("B", 3, u)}})
}

func waitPhase(ctx context.Context, e *warpflow.Engine, phase master.Phase) error {
	return waitUntil(ctx, func() bool {
		info, ok := e.Describe(wmcommon.MasterTaskID)
		if !ok {
			return false
		}
		st, ok := master.DecodeStatus(info)
		return ok && st.Phase == phase
	})
}

func waitUntil(ctx context.Context, cond func() bool) error {
	t := time.NewTicker(2 * time.Millisecond)
	defer t.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// runDemo replays the named scenario on an in-memory engine.
func runDemo(ctx context.Context, w io.Writer, name string, u time.Duration, l logger.Logger) (*demoReport, error) {
	scenario, ok := demoScenarios[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
	if u <= 0 {
		return nil, fmt.Errorf("unit must be positive, got %s", u)
	}

	bars := newDemoBars(w)
	e := warpflow.NewEngine(&warpflow.EngineOpts{Logger: l})
	defer e.Close()
	unsubscribe := e.Subscribe(bars.observe)
	defer unsubscribe()

	tick := u / 10
	if tick < time.Millisecond {
		tick = time.Millisecond
	}
	master.Workflows{
		Master:   master.New(master.Config{StatusTimeout: 10 * u, StatusRetryDelay: u}),
		Download: download.NewTask(&download.SimulatedDownloader{Tick: tick, Progress: bars.progress}),
		Cleanup:  cleanup.Default(u, u),
	}.Register(e)

	ctx, cancel := context.WithTimeout(ctx, 200*u)
	defer cancel()
	hd, err := scenario(ctx, e, u)
	var res warpflow.Result
	if err == nil {
		res, err = e.Wait(ctx, hd.RunID)
	}
	info, _ := e.Describe(wmcommon.MasterTaskID)
	// Workers stop reporting once the engine is closed.
	_ = e.Close()
	bars.wait()
	if err != nil {
		return nil, err
	}
	rep := &demoReport{Result: res, Info: info}
	rep.Status, _ = master.DecodeStatus(info)
	return rep, nil
}
