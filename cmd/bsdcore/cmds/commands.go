//go:build freebsd && amd64

// Package cmds builds bsdcore's command tree: spawn, attach, analyze
// and ps, in the shape of delve's cmd/dlv/cmds package.
package cmds

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cosiner/argv"
	"github.com/mattn/go-colorable"
	"github.com/spf13/cobra"

	"github.com/tracepoint-dev/bsdcore/pkg/analysis"
	"github.com/tracepoint-dev/bsdcore/pkg/config"
	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
	"github.com/tracepoint-dev/bsdcore/pkg/logflags"
	"github.com/tracepoint-dev/bsdcore/pkg/native"
	"github.com/tracepoint-dev/bsdcore/pkg/symbols"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string

	// tty is an alternate terminal to attach the spawned process to.
	tty string
	// argvFlag splits a single command-line string with bash-style quoting,
	// as an alternative to passing args after "--".
	argvFlag string

	// waitFor is a process name/argv prefix to wait for before attaching.
	waitFor string
	// waitTimeout bounds how long AttachWaitFor polls before giving up.
	waitTimeout time.Duration

	// fuzzyCache overrides config.Config.FuzzyCache for one run.
	fuzzyCache bool
	// specify adds addresses to the analyzer's H.1 seed set for one run,
	// without persisting them to config.
	specify []string
)

const bsdcoreLongDesc = `bsdcore is a process control core and static analyzer for FreeBSD/amd64.

It spawns or attaches to a traced process, drives it through ptrace(2)
debug events, and can run the heuristic function-discovery analyzer
over any of its mapped regions.`

// New returns an initialized command tree.
func New() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:   "bsdcore",
		Short: "Process control core and static analyzer for FreeBSD/amd64.",
		Long:  bsdcoreLongDesc,
	}
	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components to log: ptrace,procstat,analysis,disasm,events.")

	spawnCommand := &cobra.Command{
		Use:   "spawn <path> [-- args...]",
		Short: "Spawn a process under ptrace and print its debug events.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  spawnCmd,
	}
	spawnCommand.Flags().StringVar(&tty, "tty", "", "Attach the spawned process's stdio to this terminal device instead of bsdcore's own.")
	spawnCommand.Flags().StringVar(&argvFlag, "argv", "", `Split this string into the process argv instead of using positional args, e.g. --argv "prog -x -y"`)
	rootCommand.AddCommand(spawnCommand)

	attachCommand := &cobra.Command{
		Use:   "attach [pid]",
		Short: "Attach to a running (or, with --wait-for, not yet running) process.",
		RunE:  attachCmd,
	}
	attachCommand.Flags().StringVar(&waitFor, "wait-for", "", "Poll for a not-yet-running process whose name or argv starts with this prefix, instead of attaching to a fixed pid.")
	attachCommand.Flags().DurationVar(&waitTimeout, "timeout", 5*time.Second, "How long --wait-for polls before giving up.")
	rootCommand.AddCommand(attachCommand)

	analyzeCommand := &cobra.Command{
		Use:   "analyze <pid>",
		Short: "Attach to pid, run the static analyzer over its executable regions, and print the function table.",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeCmd,
	}
	analyzeCommand.Flags().BoolVar(&fuzzyCache, "fuzzy-cache", false, "Reuse a cached analysis when only a region's size/permissions match.")
	analyzeCommand.Flags().StringSliceVar(&specify, "specify", nil, "Additional 0x-prefixed addresses to seed as function entries (H.1), not persisted.")
	rootCommand.AddCommand(analyzeCommand)

	psCommand := &cobra.Command{
		Use:   "ps",
		Short: "List processes visible to the caller.",
		RunE:  psCmd,
	}
	rootCommand.AddCommand(psCommand)

	return rootCommand
}

func setupLogging() error {
	return logflags.Setup(log, logOutput, os.Stderr)
}

func splitArgs(cmd *cobra.Command, args []string) []string {
	if cmd.ArgsLenAtDash() >= 0 {
		return args[cmd.ArgsLenAtDash():]
	}
	return args[1:]
}

func splitArgv(s string) ([]string, error) {
	groups, err := argv.Argv(s, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("empty argv")
	}
	return groups[0], nil
}

func spawnCmd(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}

	path := args[0]
	procArgs := splitArgs(cmd, args)
	if argvFlag != "" {
		words, err := splitArgv(argvFlag)
		if err != nil {
			return fmt.Errorf("could not parse --argv: %w", err)
		}
		if len(words) > 0 {
			path = words[0]
			procArgs = words[1:]
		}
	}

	ctrl := native.NewController()
	out := colorable.NewColorableStdout()

	ev, err := ctrl.Open(path, procArgs, tty)
	if err != nil {
		return err
	}
	printEvent(out, ev)
	return runToCompletion(ctrl, out)
}

func attachCmd(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}

	ctrl := native.NewController()
	out := colorable.NewColorableStdout()

	var err error
	if waitFor != "" {
		_, err = ctrl.AttachWaitFor(waitFor, 100*time.Millisecond, waitTimeout)
	} else {
		if len(args) == 0 {
			return fmt.Errorf("you must provide a pid or --wait-for")
		}
		pid, perr := strconv.Atoi(args[0])
		if perr != nil {
			return fmt.Errorf("invalid pid: %s", args[0])
		}
		err = ctrl.Attach(dbgcore.Pid(pid))
	}
	if err != nil {
		return err
	}

	// attach lands the controller in AttachedRunning; the ATTACH
	// request itself causes a stop, which WaitEvent observes like any
	// other event before the process is resumed.
	ev, err := ctrl.WaitEvent(0)
	if err != nil {
		return err
	}
	printEvent(out, ev)
	if ev.Kind == dbgcore.EventTerminated {
		return nil
	}
	return runToCompletion(ctrl, out)
}

// runToCompletion resumes the traced process and prints every debug
// event until it terminates; the Terminated event itself returns the
// controller to Detached, so no separate detach is issued.
func runToCompletion(ctrl *native.Controller, out io.Writer) error {
	for {
		if ctrl.State() == native.Detached {
			return nil
		}
		if err := ctrl.Resume(dbgcore.DispositionContinue); err != nil {
			return err
		}
		ev, err := ctrl.WaitEvent(0)
		if err != nil {
			return err
		}
		printEvent(out, ev)
		if ev.Kind == dbgcore.EventTerminated {
			return nil
		}
	}
}

func printEvent(out io.Writer, ev dbgcore.DebugEvent) {
	switch ev.Kind {
	case dbgcore.EventTerminated:
		if ev.Normal {
			fmt.Fprintf(out, "\x1b[32mprocess %d exited with code %d\x1b[0m\n", ev.Pid, ev.ExitCode)
		} else {
			fmt.Fprintf(out, "\x1b[31mprocess %d killed by signal %d\x1b[0m\n", ev.Pid, -ev.ExitCode)
		}
	case dbgcore.EventTrap:
		fmt.Fprintf(out, "\x1b[36mtrap: pid=%d tid=%d\x1b[0m\n", ev.Pid, ev.Tid)
	default:
		fmt.Fprintf(out, "stopped: pid=%d tid=%d signal=%d\n", ev.Pid, ev.Tid, ev.Signal)
	}
}

func analyzeCmd(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}

	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pid: %s", args[0])
	}

	conf := config.LoadConfig()

	ctrl := native.NewController()
	if err := ctrl.Attach(dbgcore.Pid(pid)); err != nil {
		return err
	}
	defer ctrl.Detach(false)

	// Wait out the stop the ATTACH request itself causes before reading
	// any memory, so the analysis below isn't needlessly computed fuzzy.
	if _, err := ctrl.WaitEvent(0); err != nil {
		return err
	}

	entry, err := native.EntryPoint(dbgcore.Pid(pid))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not resolve entry point: %v\n", err)
	}

	regions, err := native.Regions(dbgcore.Pid(pid))
	if err != nil {
		return err
	}

	seedAddrs := parseAddresses(conf.SpecifiedFunctions)
	seedAddrs = append(seedAddrs, parseAddresses(specify)...)

	an := analysis.NewAnalyzer(conf.MaxCacheEntries, conf.FuzzyCache || fuzzyCache)
	binInfo := symbols.StaticBinaryInfo{Entry: entry}

	for _, region := range regions {
		if !region.Perm.Execute {
			continue
		}
		in := analysis.SeedInputs{Specified: seedAddrs, BinInfo: binInfo}
		fm, err := an.Analyze(ctrl, region, in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "region %#x-%#x (%s): %v\n", uint64(region.Start), uint64(region.End), region.Name, err)
			continue
		}
		if len(fm) == 0 {
			continue
		}
		fmt.Printf("region %#x-%#x %s\n", uint64(region.Start), uint64(region.End), region.Name)
		printFunctions(fm)
	}
	return nil
}

func printFunctions(fm analysis.FunctionMap) {
	addrs := make([]dbgcore.Address, 0, len(fm))
	for a := range fm {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, a := range addrs {
		fn := fm[a]
		fmt.Printf("  %#016x-%#016x %-8s refs=%-4d seeded-by=%s\n",
			uint64(fn.Start), uint64(fn.End), fn.Type, fn.ReferencesIn, fn.SeededBy)
	}
}

func parseAddresses(raw []string) []dbgcore.Address {
	out := make([]dbgcore.Address, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
		v, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			continue
		}
		out = append(out, dbgcore.Address(v))
	}
	return out
}

func psCmd(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}
	procs, err := native.EnumerateProcesses()
	if err != nil {
		return err
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].Pid < procs[j].Pid })
	for _, p := range procs {
		fmt.Printf("%6d %6d %-20s %s\n", p.Pid, p.Uid, p.Name, strings.Join(p.Argv, " "))
	}
	return nil
}
