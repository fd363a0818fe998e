package lua

import (
	"fmt"

	"github.com/Shopify/go-lua"
)

// sandboxed globals are removed after the standard libraries load.
var sandboxed = []string{"io", "os", "debug", "dofile", "loadfile", "require"}

// VM wraps a sandboxed Lua state. It is not safe for concurrent use.
type VM struct {
	state *lua.State
}

func NewVM() *VM {
	state := lua.NewState()
	lua.OpenLibraries(state)
	for _, name := range sandboxed {
		state.PushNil()
		state.SetGlobal(name)
	}
	return &VM{state: state}
}

func (vm *VM) LoadFile(path string) error {
	if err := lua.DoFile(vm.state, path); err != nil {
		return fmt.Errorf("failed to load lua file %s: %w", path, err)
	}
	return nil
}

func (vm *VM) LoadString(code string) error {
	if err := lua.DoString(vm.state, code); err != nil {
		return fmt.Errorf("failed to load lua string: %w", err)
	}
	return nil
}

func (vm *VM) GetGlobalString(name string) (string, error) {
	vm.state.Global(name)
	defer vm.state.Pop(1)

	if vm.state.IsNumber(-1) || !vm.state.IsString(-1) {
		return "", fmt.Errorf("global %s is not a string", name)
	}
	value, _ := vm.state.ToString(-1)
	return value, nil
}

func (vm *VM) HasFunction(name string) bool {
	vm.state.Global(name)
	defer vm.state.Pop(1)
	return vm.state.IsFunction(-1)
}

// CallFunction calls the global function name and discards its results.
func (vm *VM) CallFunction(name string, args ...interface{}) error {
	_, err := vm.call(name, 0, args)
	return err
}

// CallFunctionWithReturn calls name and converts numReturns results to Go
// values: string, float64, bool or nil.
func (vm *VM) CallFunctionWithReturn(name string, numReturns int, args ...interface{}) ([]interface{}, error) {
	return vm.call(name, numReturns, args)
}

// call leaves the stack as it found it, on success and on error.
func (vm *VM) call(name string, numReturns int, args []interface{}) ([]interface{}, error) {
	top := vm.state.Top()
	defer vm.state.SetTop(top)

	vm.state.Global(name)
	if !vm.state.IsFunction(-1) {
		return nil, fmt.Errorf("global %s is not a function", name)
	}

	for _, arg := range args {
		if err := vm.push(arg); err != nil {
			return nil, err
		}
	}

	if err := vm.state.ProtectedCall(len(args), numReturns, 0); err != nil {
		return nil, fmt.Errorf("lua function %s: %w", name, err)
	}

	results := make([]interface{}, numReturns)
	for i := range results {
		results[i] = vm.value(top + 1 + i)
	}
	return results, nil
}

// push pushes one call argument. Pusher values build their own tables so
// hooks receive structured state.
func (vm *VM) push(arg interface{}) error {
	switch v := arg.(type) {
	case string:
		vm.state.PushString(v)
	case int:
		vm.state.PushInteger(v)
	case float64:
		vm.state.PushNumber(v)
	case bool:
		vm.state.PushBoolean(v)
	case Pusher:
		v.PushLua(vm.state)
	case nil:
		vm.state.PushNil()
	default:
		return fmt.Errorf("unsupported argument type: %T", arg)
	}
	return nil
}

func (vm *VM) value(index int) interface{} {
	switch {
	case vm.state.IsNumber(index):
		value, _ := vm.state.ToNumber(index)
		return value
	case vm.state.IsString(index):
		value, _ := vm.state.ToString(index)
		return value
	case vm.state.IsBoolean(index):
		return vm.state.ToBoolean(index)
	default:
		return nil
	}
}

func (vm *VM) State() *lua.State {
	return vm.state
}

// Top returns the current stack depth.
func (vm *VM) Top() int {
	return vm.state.Top()
}
