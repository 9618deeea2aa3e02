package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/msageha/baton/internal/control"
	"github.com/msageha/baton/internal/model"
	"github.com/msageha/baton/internal/notify"
	"github.com/msageha/baton/internal/runner"
	"github.com/msageha/baton/internal/setup"
)

const version = "1.0.0"

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "run":
		runRun(os.Args[2:])
	case "down":
		runDown(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "engine":
		runEngine(os.Args[2:])
	case "load":
		runLoad(os.Args[2:])
	case "exec":
		runExec(os.Args[2:])
	case "record":
		runRecord(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "logs":
		runLogs(os.Args[2:])
	case "notify":
		runNotify(os.Args[2:])
	case "version":
		fmt.Printf("baton %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadDotEnv loads environment variables from path. Missing files are
// ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func runInit(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: baton init <project_dir> [--engine <command>]")
		os.Exit(1)
	}

	projectDir := args[0]
	rest := args[1:]

	var engineCommand string
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--engine":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--engine requires a value")
				os.Exit(1)
			}
			i++
			engineCommand = rest[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: baton init <project_dir> [--engine <command>]\n", rest[i])
			os.Exit(1)
		}
	}

	if err := setup.Run(projectDir, engineCommand); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(projectDir)
	fmt.Printf("Initialized .baton/ in %s\n", absDir)
}

func runRun(args []string) {
	var flowPath, logLevel string
	noWatch := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--flow":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--flow requires a value")
				os.Exit(1)
			}
			i++
			flowPath = args[i]
		case "--log-level":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--log-level requires a value")
				os.Exit(1)
			}
			i++
			logLevel = args[i]
		case "--no-watch":
			noWatch = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: baton run [--flow <path>] [--log-level <level>] [--no-watch]\n", args[i])
			os.Exit(1)
		}
	}

	batonDir := mustBatonDir()

	cfg, err := loadConfig(batonDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if flowPath != "" {
		abs, err := filepath.Abs(flowPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve flow path: %v\n", err)
			os.Exit(1)
		}
		cfg.Flow.Path = abs
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if noWatch {
		cfg.Flow.Watch = false
	}

	r, err := runner.New(batonDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create runner: %v\n", err)
		os.Exit(1)
	}

	if err := r.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "runner: %v\n", err)
		os.Exit(1)
	}
}

func runDown(_ []string) {
	resp := send("shutdown", nil)
	mustSucceed("shutdown", resp)
	fmt.Println("Shutdown requested")
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: baton status [--json]\n", a)
			os.Exit(1)
		}
	}

	resp := send("status", nil)
	data := mustSucceed("status", resp)

	if jsonOutput {
		printJSON(data)
		return
	}

	var snap model.StatusSnapshot
	if err := resp.Decode(&snap); err != nil {
		fmt.Fprintf(os.Stderr, "decode status: %v\n", err)
		os.Exit(1)
	}
	printStatus(snap)
}

func printStatus(snap model.StatusSnapshot) {
	engineLine := string(snap.Process)
	if snap.Process == model.ProcessStateRunning && snap.PID > 0 {
		engineLine = fmt.Sprintf("%s (pid %d)", snap.Process, snap.PID)
	}
	if snap.ExitCode != nil && snap.Process != model.ProcessStateRunning {
		engineLine = fmt.Sprintf("%s (exit code %d)", snap.Process, *snap.ExitCode)
	}
	fmt.Printf("Engine:     %s\n", engineLine)
	if snap.EngineState != "" {
		fmt.Printf("State:      %s\n", snap.EngineState)
	}

	flowLine := "none"
	if snap.ConfigLoaded {
		flowLine = "loaded"
		if snap.FlowName != "" {
			flowLine = fmt.Sprintf("%s (loaded)", snap.FlowName)
		}
	}
	fmt.Printf("Flow:       %s\n", flowLine)

	recLine := string(snap.Recording.State)
	if snap.Recording.State == model.RecordingStateRecording && snap.Recording.Statistics != nil {
		recLine = fmt.Sprintf("recording (%d actions, %d screenshots)",
			snap.Recording.Statistics.Actions, snap.Recording.Statistics.Screenshots)
	}
	fmt.Printf("Recording:  %s\n", recLine)

	execLine := string(snap.Execution.State)
	if snap.Execution.State == model.ExecutionStateActive && snap.Execution.ProcessID != "" {
		execLine = fmt.Sprintf("active (process %s)", snap.Execution.ProcessID)
	}
	fmt.Printf("Execution:  %s\n", execLine)

	fmt.Printf("History:    %d recordings\n", snap.History)
	if snap.DroppedNotifications > 0 {
		fmt.Printf("Dropped:    %d notifications\n", snap.DroppedNotifications)
	}
}

func runEngine(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: baton engine <start|stop>")
		os.Exit(1)
	}
	switch args[0] {
	case "start":
		resp := send("engine_start", nil)
		mustSucceed("engine start", resp)
		fmt.Println("Engine started")
	case "stop":
		resp := send("engine_stop", nil)
		mustSucceed("engine stop", resp)
		fmt.Println("Engine stopped")
	default:
		fmt.Fprintf(os.Stderr, "unknown engine subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: baton engine <start|stop>")
		os.Exit(1)
	}
}

func runLoad(args []string) {
	var params map[string]string
	if len(args) > 0 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve path: %v\n", err)
			os.Exit(1)
		}
		params = map[string]string{"path": abs}
	}

	resp := send("load", params)
	mustSucceed("load", resp)

	var result struct {
		Name      string   `json:"name"`
		Summary   string   `json:"summary"`
		Processes []string `json:"processes"`
	}
	if err := resp.Decode(&result); err != nil {
		fmt.Fprintf(os.Stderr, "decode load result: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %s\n", result.Summary)
	for _, p := range result.Processes {
		fmt.Printf("  process: %s\n", p)
	}
}

func runExec(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: baton exec <start|stop> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "start":
		runExecStart(args[1:])
	case "stop":
		resp := send("exec_stop", nil)
		mustSucceed("exec stop", resp)
		fmt.Println("Execution stop requested")
	default:
		fmt.Fprintf(os.Stderr, "unknown exec subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: baton exec <start|stop> [options]")
		os.Exit(1)
	}
}

func runExecStart(args []string) {
	var processID, mode string
	monitor := 0
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--process":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--process requires a value")
				os.Exit(1)
			}
			i++
			processID = args[i]
		case "--mode":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--mode requires a value")
				os.Exit(1)
			}
			i++
			mode = args[i]
		case "--monitor":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--monitor requires a value")
				os.Exit(1)
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --monitor value: %s\n", args[i])
				os.Exit(1)
			}
			monitor = n
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: baton exec start [--process <id>] [--mode <mode>] [--monitor <n>]\n", args[i])
			os.Exit(1)
		}
	}

	params := map[string]any{}
	if processID != "" {
		params["process_id"] = processID
	}
	if mode != "" {
		params["mode"] = mode
	}
	if monitor != 0 {
		params["monitor"] = monitor
	}

	resp := send("exec_start", params)
	mustSucceed("exec start", resp)
	fmt.Println("Execution started")
}

func runRecord(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: baton record <start|stop|status>")
		os.Exit(1)
	}
	switch args[0] {
	case "start":
		runRecordStart(args[1:])
	case "stop":
		resp := send("record_stop", nil)
		mustSucceed("record stop", resp)
		fmt.Println("Recording stop requested")
	case "status":
		resp := send("record_status", nil)
		mustSucceed("record status", resp)
		var session model.RecordingSession
		if err := resp.Decode(&session); err != nil {
			fmt.Fprintf(os.Stderr, "decode recording status: %v\n", err)
			os.Exit(1)
		}
		printRecordingSession(session)
	default:
		fmt.Fprintf(os.Stderr, "unknown record subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: baton record <start|stop|status>")
		os.Exit(1)
	}
}

func runRecordStart(args []string) {
	var dir string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dir":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--dir requires a value")
				os.Exit(1)
			}
			i++
			dir = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: baton record start [--dir <dir>]\n", args[i])
			os.Exit(1)
		}
	}

	var params map[string]string
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve directory: %v\n", err)
			os.Exit(1)
		}
		params = map[string]string{"dir": abs}
	}

	resp := send("record_start", params)
	mustSucceed("record start", resp)
	var result struct {
		RunID string `json:"run_id"`
	}
	if err := resp.Decode(&result); err == nil && result.RunID != "" {
		fmt.Printf("Recording started (run %s)\n", result.RunID)
	} else {
		fmt.Println("Recording started")
	}
}

func printRecordingSession(s model.RecordingSession) {
	fmt.Printf("State:       %s\n", s.State)
	if s.RunID != "" {
		fmt.Printf("Run:         %s\n", s.RunID)
	}
	if s.StartedAt != nil {
		fmt.Printf("Started:     %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if s.TargetDirectory != "" {
		fmt.Printf("Directory:   %s\n", s.TargetDirectory)
	}
	if s.Statistics != nil {
		fmt.Printf("Actions:     %d\n", s.Statistics.Actions)
		fmt.Printf("Screenshots: %d\n", s.Statistics.Screenshots)
		fmt.Printf("Patterns:    %d\n", s.Statistics.Patterns)
	}
}

func runHistory(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: baton history [--json]\n", a)
			os.Exit(1)
		}
	}

	resp := send("history", nil)
	data := mustSucceed("history", resp)

	if jsonOutput {
		printJSON(data)
		return
	}

	var result struct {
		Entries []model.RecordingHistoryEntry `json:"entries"`
	}
	if err := resp.Decode(&result); err != nil {
		fmt.Fprintf(os.Stderr, "decode history: %v\n", err)
		os.Exit(1)
	}
	if len(result.Entries) == 0 {
		fmt.Println("No recordings yet")
		return
	}
	for _, e := range result.Entries {
		fmt.Printf("%s  %-7s  %3d actions  %3d screenshots  %6.1fs  %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Outcome,
			e.ActionCount, e.ScreenshotCount, e.DurationSeconds, e.Directory)
	}
}

func runLogs(args []string) {
	tail := 0
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--tail":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--tail requires a value")
				os.Exit(1)
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --tail value: %s\n", args[i])
				os.Exit(1)
			}
			tail = n
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: baton logs [--tail <n>]\n", args[i])
			os.Exit(1)
		}
	}

	var params map[string]int
	if tail > 0 {
		params = map[string]int{"tail": tail}
	}

	resp := send("logs", params)
	mustSucceed("logs", resp)

	var result struct {
		Entries []model.LogEntry `json:"entries"`
	}
	if err := resp.Decode(&result); err != nil {
		fmt.Fprintf(os.Stderr, "decode logs: %v\n", err)
		os.Exit(1)
	}
	for _, e := range result.Entries {
		fmt.Printf("%s %-7s %s\n", e.Timestamp.Format("15:04:05"), e.Severity, e.Message)
	}
}

func runNotify(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: baton notify <title> <message>")
		os.Exit(1)
	}
	if err := notify.Send(args[0], args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "notify: %v\n", err)
		os.Exit(1)
	}
}

// send connects to the runner's control socket and issues one command.
func send(command string, params any) *control.Response {
	batonDir := mustBatonDir()

	cfg, err := loadConfig(batonDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	client := control.NewClient(runner.SocketPath(batonDir, cfg.Control))
	resp, err := client.SendCommand(command, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
	return resp
}

func mustSucceed(op string, resp *control.Response) json.RawMessage {
	if !resp.Success {
		code := ""
		msg := "unknown error"
		if resp.Error != nil {
			code = resp.Error.Code
			msg = resp.Error.Message
		}
		fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", op, code, msg)
		os.Exit(1)
	}
	return resp.Data
}

func printJSON(data json.RawMessage) {
	out, _ := json.MarshalIndent(data, "", "  ")
	fmt.Println(string(out))
}

func mustBatonDir() string {
	batonDir := findBatonDir()
	if batonDir == "" {
		fmt.Fprintln(os.Stderr, "error: .baton/ directory not found. Run 'baton init <dir>' first.")
		os.Exit(1)
	}
	return batonDir
}

func findBatonDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".baton")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func loadConfig(batonDir string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(batonDir, "config.yaml"))
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	cfg.Normalize()
	cfg.ApplyEnv()
	return cfg, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `baton %s — GUI automation engine runner

Usage: baton <command> [options]

Project:
  init <dir> [--engine <cmd>]  Initialize .baton/ directory
  run [--flow <path>] [--log-level <level>] [--no-watch]
                               Run the runner process (foreground)
  down                         Ask the runner to shut down
  status [--json]              Show engine and session status

Engine:
  engine start                 Start the engine process
  engine stop                  Stop the engine process
  load [path]                  Load a flow definition (default: flow.path)

Execution:
  exec start [--process <id>] [--mode <mode>] [--monitor <n>]
                               Start running the flow
  exec stop                    Stop the active run

Recording:
  record start [--dir <dir>]   Start a recording session
  record stop                  Stop the active recording
  record status                Show recording session details
  history [--json]             List completed recordings

Utilities:
  logs [--tail <n>]            Show recent activity log entries
  notify <title> <msg>         macOS notification
  version                      Show version
  help                         Show this help

`, version)
}
