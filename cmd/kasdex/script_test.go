package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"rsc.io/script"
	"rsc.io/script/scripttest"
)

// TestMain lets the test binary double as the kasdex CLI: script tests
// exec a copy of this binary named "kasdex" with KASDEX_SCRIPT_TEST_RUN_MAIN
// set, which runs rootCmd instead of the go test harness.
func TestMain(m *testing.M) {
	if os.Getenv("KASDEX_SCRIPT_TEST_RUN_MAIN") != "" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// TestScripts runs every testdata/script/*.txt file through the rsc.io/script
// engine, exercising the CLI end to end the way the spec's command tree is
// actually invoked (flag parsing, filter validation, exit codes).
func TestScripts(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("self-exec harness targets unix-style PATH lookup")
	}

	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("resolve test binary: %v", err)
	}

	binDir := t.TempDir()
	kasdexPath := filepath.Join(binDir, "kasdex")
	copyExecutable(t, exe, kasdexPath)

	engine := &script.Engine{
		Cmds:  script.DefaultCmds(),
		Conds: script.DefaultConds(),
	}

	env := os.Environ()
	env = append(env, "KASDEX_SCRIPT_TEST_RUN_MAIN=1")
	env = append(env, "PATH="+binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	scripttest.Test(t, context.Background(), engine, env, "testdata/script/*.txt")
}

func copyExecutable(t *testing.T, src, dst string) {
	t.Helper()
	in, err := os.Open(src)
	if err != nil {
		t.Fatalf("open %s: %v", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		t.Fatalf("create %s: %v", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		t.Fatalf("copy %s to %s: %v", src, dst, err)
	}
}
