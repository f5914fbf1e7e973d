package testutil

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FakeAnalyzerEnv switches a test binary into fake analyzer mode.
const FakeAnalyzerEnv = "RUDRATEST_FAKE_ANALYZER"

// fakeChildEnv marks a helper process started by the spawn directive.
const fakeChildEnv = "RUDRATEST_FAKE_CHILD"

// FakeAnalyzerArgs returns the command and environment that make an Invoker
// re-execute the current test binary as the fake analyzer.
func FakeAnalyzerArgs() (command string, env []string) {
	return os.Args[0], []string{FakeAnalyzerEnv + "=1"}
}

// RunFakeAnalyzerIfRequested turns the process into the fake analyzer when
// FakeAnalyzerEnv is set. Call it first thing in TestMain.
//
// Given a file argument, the fake analyzes that file. Without one it analyzes
// the package in the working directory: the name comes from Cargo.toml and
// the directives from src/lib.rs. Recognized directives:
//
//	//! report KIND LOCATION   emit a diagnostic; $INPUT and $DEST expand
//	//! crash                  exit 101 after printing a panic message
//	//! hang                   sleep until killed
//	//! spawn PIDFILE          start a sleeping child, write its pid, then hang
//	//! garbage                write an unparseable report
func RunFakeAnalyzerIfRequested() {
	if os.Getenv(FakeAnalyzerEnv) == "" {
		return
	}
	os.Exit(fakeAnalyzer(os.Args[1:]))
}

type fakeDiagnostic struct {
	Level       string `toml:"level"`
	Analyzer    string `toml:"analyzer"`
	Description string `toml:"description"`
	Location    string `toml:"location"`
	Source      string `toml:"source"`
}

func fakeAnalyzer(args []string) int {
	dest := os.Getenv("RUDRA_REPORT_PATH")
	if dest == "" {
		fmt.Fprintln(os.Stderr, "RUDRA_REPORT_PATH is not set")
		return 2
	}

	input := ""
	if len(args) > 0 {
		if info, err := os.Stat(args[len(args)-1]); err == nil && !info.IsDir() {
			input = args[len(args)-1]
		}
	}
	if input == "" {
		var manifest struct {
			Package struct {
				Name string `toml:"name"`
			} `toml:"package"`
		}
		if _, err := toml.DecodeFile("Cargo.toml", &manifest); err != nil {
			fmt.Fprintln(os.Stderr, "error: could not find `Cargo.toml`:", err)
			return 101
		}
		input = filepath.Join("src", "lib.rs")
		dest = dest + "-lib-" + manifest.Package.Name
	}

	f, err := os.Open(input)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer f.Close()

	var diags []fakeDiagnostic
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "//!" {
			continue
		}
		switch fields[1] {
		case "report":
			if len(fields) < 4 {
				continue
			}
			loc := strings.Join(fields[3:], " ")
			loc = strings.ReplaceAll(loc, "$INPUT", input)
			loc = strings.ReplaceAll(loc, "$DEST", dest)
			diags = append(diags, fakeDiagnostic{
				Level:       "Warning",
				Analyzer:    fields[2],
				Description: "fake finding",
				Location:    loc,
				Source:      "unsafe {}",
			})
		case "crash":
			fmt.Println("Compiling fixture")
			fmt.Fprintln(os.Stderr, "thread 'rustc' panicked at 'fake analyzer crash'")
			return 101
		case "hang":
			time.Sleep(time.Hour)
		case "spawn":
			if os.Getenv(fakeChildEnv) != "" || len(fields) < 3 {
				time.Sleep(time.Hour)
				return 0
			}
			child := exec.Command(os.Args[0], args...)
			child.Env = append(os.Environ(), fakeChildEnv+"=1")
			child.Stdout, child.Stderr = os.Stdout, os.Stderr
			if err := child.Start(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			if err := os.WriteFile(fields[2], []byte(strconv.Itoa(child.Process.Pid)), 0o644); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			time.Sleep(time.Hour)
		case "garbage":
			if err := os.WriteFile(dest, []byte("[[reports]\nanalyzer = "), 0o644); err != nil {
				return 1
			}
			return 0
		}
	}

	// Like the real analyzer, nothing is written when there is nothing to report.
	if len(diags) == 0 {
		return 0
	}
	out, err := os.Create(dest)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer out.Close()
	if err := toml.NewEncoder(out).Encode(struct {
		Reports []fakeDiagnostic `toml:"reports"`
	}{diags}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
