package emu

import "sync"

// GdbCmdFunc handles one debugger command. cmd is a copy of the native
// buffer and safe to retain. Returning true accepts the command.
type GdbCmdFunc func(e *Emulator, cmd string) bool

// The command table is process-wide and append-only: the native debugger
// layer may invoke an entry at any later time, so entries are never
// removed. The engine is handed a trampoline that resolves the entry by
// bounds-checked index.
var (
	gdbMu   sync.Mutex
	gdbCmds []GdbCmdFunc
)

// AddGdbCmd appends a debugger-command callback and registers its
// trampoline with the engine.
func (e *Emulator) AddGdbCmd(fn GdbCmdFunc) {
	gdbMu.Lock()
	idx := len(gdbCmds)
	gdbCmds = append(gdbCmds, fn)
	gdbMu.Unlock()

	e.eng.AddGdbCmd(func(cmd []byte) bool {
		gdbMu.Lock()
		if idx >= len(gdbCmds) {
			gdbMu.Unlock()
			return false
		}
		cb := gdbCmds[idx]
		gdbMu.Unlock()
		// the native buffer is only valid for this call; string() copies
		return cb(Existing(), string(cmd))
	})
}

// GdbReply sends raw protocol bytes through the engine's debugger channel.
func (e *Emulator) GdbReply(output string) {
	e.eng.GdbReply([]byte(output))
}
