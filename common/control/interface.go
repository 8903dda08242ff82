package control

// Func adjusts a freshly created socket before it is connected or bound.
// listen tells whether the socket is about to become a listener.
type Func = func(fd int, listen bool) error

func Append(oldFunc Func, newFunc Func) Func {
	if oldFunc == nil {
		return newFunc
	} else if newFunc == nil {
		return oldFunc
	}
	return func(fd int, listen bool) error {
		if err := oldFunc(fd, listen); err != nil {
			return err
		}
		return newFunc(fd, listen)
	}
}

// Apply runs every non-nil function in order and stops at the first error.
func Apply(fd int, listen bool, funcs ...Func) error {
	for _, fn := range funcs {
		if fn == nil {
			continue
		}
		if err := fn(fd, listen); err != nil {
			return err
		}
	}
	return nil
}
