package repl

func (L *LuaRepl) loadBindings() error {
	if err := bindEmu(L); err != nil {
		return err
	}
	return nil
}
