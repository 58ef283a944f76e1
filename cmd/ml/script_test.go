package main_test

// Grounded on bd's own go.mod dependency on rsc.io/script: bd drives its CLI
// integration tests through script files, and memlog does the same here,
// compiling the real ml binary once and running testdata/*.txt against it
// as a black box (init, record-episode, pack, status, ...) exactly as an
// operator's shell session would.

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"rsc.io/script"
	"rsc.io/script/scripttest"
)

var mlBinPath string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "ml-script-test")
	if err != nil {
		os.Stderr.WriteString("mkdir temp: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	mlBinPath = filepath.Join(dir, "ml")
	if runtime.GOOS == "windows" {
		mlBinPath += ".exe"
	}

	build := exec.Command("go", "build", "-o", mlBinPath, ".")
	if out, err := build.CombinedOutput(); err != nil {
		os.Stderr.Write(out)
		os.Stderr.WriteString("building ml for script tests: " + err.Error() + "\n")
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// TestScripts drives every testdata/*.txt file through the script engine.
// Each script spins up its own $WORK directory (scripttest's default), so
// concurrent scripts never share a database.
func TestScripts(t *testing.T) {
	engine := &script.Engine{
		Cmds:  scripttest.DefaultCmds(),
		Conds: scripttest.DefaultConds(),
	}
	engine.Cmds["ml"] = script.Program(mlBinPath, nil, 0)

	ctx := context.Background()
	env := os.Environ()
	scripttest.Test(t, ctx, engine, env, "testdata/*.txt")
}
