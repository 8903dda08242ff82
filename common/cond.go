package common

import "io"

func Map[T any, N any](arr []T, block func(it T) N) []N {
	retArr := make([]N, 0, len(arr))
	for index := range arr {
		retArr = append(retArr, block(arr[index]))
	}
	return retArr
}

func Close(closers ...any) error {
	var lastErr error
	for _, closer := range closers {
		if c, isCloser := closer.(io.Closer); isCloser && c != nil {
			if err := c.Close(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}
