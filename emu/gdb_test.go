package emu_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dylanjwolff/libafl/emu"
)

func TestGdbCmd(t *testing.T) {
	e, eng := testEmu(t)
	var seen []string
	e.AddGdbCmd(func(ge *emu.Emulator, cmd string) bool {
		if ge != e {
			t.Error("callback got a different emulator handle")
		}
		if !strings.HasPrefix(cmd, "qfuzz.") {
			return false
		}
		seen = append(seen, cmd)
		ge.GdbReply("OK;")
		return true
	})

	if !eng.DispatchGdb("qfuzz.status") {
		t.Fatal("command not accepted")
	}
	if eng.DispatchGdb("unrelated-to-this-test") {
		t.Fatal("command accepted by the wrong handler")
	}
	if len(seen) != 1 || seen[0] != "qfuzz.status" {
		t.Errorf("bad command delivery: %v", seen)
	}
	if !bytes.Contains(eng.GdbOutput(), []byte("OK;")) {
		t.Error("reply did not reach the debugger channel")
	}
}

func TestGdbCmdStacking(t *testing.T) {
	e, eng := testEmu(t)
	order := []string{}
	e.AddGdbCmd(func(_ *emu.Emulator, cmd string) bool {
		if cmd != "qfuzz.stack" {
			return false
		}
		order = append(order, "first")
		return false // decline, let an earlier handler try
	})
	e.AddGdbCmd(func(_ *emu.Emulator, cmd string) bool {
		if cmd != "qfuzz.stack" {
			return false
		}
		order = append(order, "second")
		return true
	})

	if !eng.DispatchGdb("qfuzz.stack") {
		t.Fatal("command not accepted")
	}
	// entries are tried most recent first; the decliner never runs
	if len(order) != 1 || order[0] != "second" {
		t.Errorf("bad dispatch order: %v", order)
	}
}
