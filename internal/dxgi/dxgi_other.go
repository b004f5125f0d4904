//go:build !windows

package dxgi

// enumOutputs is a stub for non-Windows platforms.
// Desktop duplication only exists on Windows 8 and later.
func enumOutputs() ([]AdapterOutput, error) {
	return nil, ErrNotSupported
}

func threadInit() func() {
	return func() {}
}
