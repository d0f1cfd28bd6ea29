// Command cf-check is the offline database diagnostic and maintenance
// tool: dump, diagnose, backup, and repair the kv-backed state databases
// without going through the running agent, using a flag.NewFlagSet-per-
// subcommand dispatch style.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cfengine-go/agentcore/internal/kv"
	"github.com/cfengine-go/agentcore/pkg/config"
	"github.com/cfengine-go/agentcore/pkg/version"
)

func main() {
	if kv.IsReplicateChild() {
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "cf-check: --replicate-child requires src and dst arguments")
			os.Exit(1)
		}
		kv.RunReplicateChild(os.Args[2], os.Args[3])
		return
	}

	code, err := run(context.Background(), os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "cf-check:", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

func run(ctx context.Context, args []string) (int, error) {
	root := flag.NewFlagSet("cf-check", flag.ContinueOnError)
	root.SetOutput(io.Discard)
	_ = root.String("log-level", "", "error|warning|notice|info|verbose|debug")
	_ = root.Bool("debug", false, "")
	_ = root.Bool("verbose", false, "")
	_ = root.Bool("inform", false, "")
	manpage := root.Bool("manpage", false, "print a groff man page and exit")
	help := root.Bool("help", false, "print usage and exit")
	if err := root.Parse(args); err != nil {
		printUsage()
		return 2, err
	}
	if *manpage {
		printManpage()
		return 0, nil
	}
	remaining := root.Args()
	if *help || len(remaining) == 0 {
		printUsage()
		return 0, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return 1, fmt.Errorf("load config: %w", err)
	}
	stateDir := filepath.Join(cfg.Agent.WorkDir, "state")

	switch remaining[0] {
	case "dump":
		return runDump(stateDir, remaining[1:])
	case "diagnose":
		return runDiagnose(stateDir, remaining[1:])
	case "backup":
		return runBackup(cfg.Agent.WorkDir, stateDir, remaining[1:])
	case "repair":
		return runRepair(stateDir, remaining[1:])
	case "lmdump":
		return runLMDump(stateDir, remaining[1:])
	case "version":
		fmt.Println(version.FullVersion())
		return 0, nil
	case "help":
		printUsage()
		return 0, nil
	default:
		printUsage()
		return 2, fmt.Errorf("unknown subcommand %q", remaining[0])
	}
}

// databaseFiles lists every handle file under dir (or just the named
// ones, if given), matching the fixed ".db" extension kv.Open uses.
func databaseFiles(dir string, names []string) ([]string, error) {
	if len(names) > 0 {
		files := make([]string, 0, len(names))
		for _, n := range names {
			files = append(files, filepath.Join(dir, n+".db"))
		}
		return files, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".db" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func runDiagnose(stateDir string, names []string) (int, error) {
	files, err := databaseFiles(stateDir, names)
	if err != nil {
		return 1, err
	}
	failures := 0
	for _, f := range files {
		problem, err := kv.Diagnose(f)
		if err != nil {
			fmt.Printf("%s: error: %v\n", f, err)
			failures++
			continue
		}
		if problem != "" {
			fmt.Printf("%s: %s\n", f, problem)
			failures++
			continue
		}
		fmt.Printf("%s: ok\n", f)
	}
	if failures > 0 {
		return 1, nil
	}
	return 0, nil
}

func runDump(stateDir string, names []string) (int, error) {
	files, err := databaseFiles(stateDir, names)
	if err != nil {
		return 1, err
	}
	for _, f := range files {
		fmt.Printf("# %s\n", f)
		if err := dumpFile(f, false); err != nil {
			fmt.Printf("  error: %v\n", err)
		}
	}
	return 0, nil
}

func runLMDump(stateDir string, names []string) (int, error) {
	files, err := databaseFiles(stateDir, names)
	if err != nil {
		return 1, err
	}
	for _, f := range files {
		fmt.Printf("# %s\n", f)
		if err := dumpFile(f, true); err != nil {
			fmt.Printf("  error: %v\n", err)
		}
	}
	return 0, nil
}

func runBackup(workDir, stateDir string, args []string) (int, error) {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	dump := fs.Bool("dump", false, "also write a text dump alongside each backup copy")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}

	files, err := databaseFiles(stateDir, fs.Args())
	if err != nil {
		return 1, err
	}
	backupDir := filepath.Join(workDir, "backups", nowStamp())
	if err := os.MkdirAll(backupDir, 0o700); err != nil {
		return 1, fmt.Errorf("create backup dir: %w", err)
	}

	failed := 0
	for _, f := range files {
		dst := filepath.Join(backupDir, filepath.Base(f))
		if err := kv.Replicate(f, dst); err != nil {
			fmt.Printf("%s: backup failed: %v\n", f, err)
			failed++
			continue
		}
		if *dump {
			dumpPath := dst + ".txt"
			out, err := os.Create(dumpPath)
			if err == nil {
				err = dumpTo(out, dst, false)
				out.Close()
			}
			if err != nil {
				fmt.Printf("%s: dump failed: %v\n", dst, err)
			}
		}
		fmt.Printf("%s: backed up to %s\n", f, dst)
	}
	return failed, nil
}

func runRepair(stateDir string, names []string) (int, error) {
	files, err := databaseFiles(stateDir, names)
	if err != nil {
		return 1, err
	}
	failed := 0
	for _, f := range files {
		tmp := f + ".repair"
		status, err := kv.ReplicateInSubprocess(f, tmp)
		if err != nil {
			fmt.Printf("%s: repair failed: %v\n", f, err)
			failed++
			continue
		}
		switch status {
		case kv.ReplicateOK:
			if err := os.Rename(tmp, f); err != nil {
				fmt.Printf("%s: repair succeeded but could not install result: %v\n", f, err)
				failed++
				continue
			}
			fmt.Printf("%s: repaired\n", f)
		case kv.ReplicateCorruptPage:
			fmt.Printf("%s: unrepairable (corrupt page)\n", f)
			failed++
		default:
			fmt.Printf("%s: repair outcome unknown\n", f)
			failed++
		}
	}
	if failed > 0 {
		return 1, nil
	}
	return 0, nil
}

func nowStamp() string {
	if s := os.Getenv("SOURCE_DATE_EPOCH"); s != "" {
		return s
	}
	return fmt.Sprintf("%d", time.Now().Unix())
}

func printUsage() {
	fmt.Println(`cf-check - offline database diagnostic and maintenance tool

Usage:
  cf-check [global flags] <command> [args]

Commands:
  dump [handle...]      print key/value pairs for one or all state databases
  diagnose [handle...]  report structural problems, exit non-zero if any found
  backup [--dump] [handle...]
                         copy state databases into backups/<unix-ts>/
  repair [handle...]     replicate-and-replace each database in a subprocess
  lmdump [handle...]     raw dump: hex key, value byte size, hex value prefix
  version                print build version
  help                   print this message

Global flags:
  --log-level error|warning|notice|info|verbose|debug
  --debug  --verbose  --inform  --help  --manpage`)
}

func printManpage() {
	fmt.Print(`.TH CF-CHECK 8 "" "cf-check" "System Administration"
.SH NAME
cf-check \- diagnose and repair cf-agent state databases
.SH SYNOPSIS
.B cf-check
[\fIflags\fR] \fIcommand\fR [\fIargs\fR...]
.SH DESCRIPTION
cf-check inspects, dumps, backs up, and repairs the embedded key/value
databases cf-agent keeps under its work directory's state/ tree.
.SH COMMANDS
.TP
dump
Print key/value pairs for one or all state databases.
.TP
diagnose
Report structural problems; exits non-zero if any are found.
.TP
backup
Copy state databases into backups/<unix-ts>/.
.TP
repair
Replicate and replace each database in an isolated subprocess.
.TP
lmdump
Print a raw dump of each key in hex with its value's byte size and the
first 32 value bytes in hex.
.TP
version
Print build version information.
`)
}
